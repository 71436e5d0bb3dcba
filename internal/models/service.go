package models

type Service struct {
	ServiceID       string  `json:"service_id"`
	Name            string  `json:"name"`
	Code            string  `json:"code"`
	PriorityWeight  int     `json:"priority_weight"`
	BaselineMinutes float64 `json:"baseline_minutes"`
}

type Operator struct {
	OperatorID string  `json:"operator_id"`
	Name       string  `json:"name"`
	Efficiency float64 `json:"efficiency"`
}

const (
	ClientRegular = "regular"
	ClientVIP     = "vip"
	ClientNew     = "new"
)
