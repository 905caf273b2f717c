package billing

import (
	"melon-bot/internal/db"
)

// LocationIsFull - локация заполнена, когда суммарная занятость
// активных серверов достигла суммарной ёмкости. Ёмкость носит
// рекомендательный характер: гонку двух одновременных покупок за
// последнее место мы сознательно не закрываем, счётчик выправится
// на этапе провижининга.
func (s *Service) LocationIsFull(locationID uint) (bool, error) {
	capacity, used, err := s.repo.LocationCapacity(locationID)
	if err != nil {
		return false, err
	}
	return used >= capacity, nil
}

// PickServer выбирает наименее загруженный активный сервер локации.
// Сервер только привязывается к заказу, счётчик мест на этом шаге
// не меняется: место считается занятым после успешного провижининга.
func (s *Service) PickServer(locationID uint) (*db.Server, error) {
	servers, err := s.repo.ActiveServersByLoad(locationID)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, &CapacityError{LocationID: locationID}
	}
	return &servers[0], nil
}
