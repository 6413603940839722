package analysis

// TimeFilters masks which calendar slices contribute to an analysis.
// Element order is January..December, Monday..Friday, day 1..31.
type TimeFilters struct {
	Months      []bool `json:"months"`
	DaysOfWeek  []bool `json:"daysOfWeek"`
	DaysOfMonth []bool `json:"daysOfMonth"`
}

// TradingHours bounds the intraday session window. Start after end is
// allowed and means an overnight session.
type TradingHours struct {
	StartHour int `json:"startHour"`
	StartMin  int `json:"startMin"`
	EndHour   int `json:"endHour"`
	EndMin    int `json:"endMin"`
}

// Request is a fully validated statistics request. Instances only come
// out of Validator.Validate; there is no partially valid Request.
type Request struct {
	Asset        string       `json:"asset"`
	StartDate    int          `json:"start_date"`
	EndDate      int          `json:"end_date"`
	BarPeriod    int          `json:"bar_period"`
	TimeFilters  TimeFilters  `json:"time_filters"`
	TradingHours TradingHours `json:"trading_hours"`
}
