package model

import "time"

type ReportType string

const (
	ReportExpense     ReportType = "expense"
	ReportWaste       ReportType = "waste"
	ReportConsumption ReportType = "consumption"
)

type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Totals struct {
	Expense         float64 `json:"expense"`
	ItemCount       int     `json:"item_count"`
	WasteValue      float64 `json:"waste_value"`
	WastePercentage float64 `json:"waste_percentage"`
	WastedCount     int     `json:"wasted_count"`
	ConsumedCount   int     `json:"consumed_count"`
	ConsumptionRate float64 `json:"consumption_rate"`
}

type CategoryBreakdown struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
}

type DailyPoint struct {
	Date  string  `json:"date"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// ReportResult is computed on demand and never persisted.
type ReportResult struct {
	Type       ReportType          `json:"type"`
	UserID     int64               `json:"user_id"`
	Period     Period              `json:"period"`
	Totals     Totals              `json:"totals"`
	Categories []CategoryBreakdown `json:"categories"`
	Daily      []DailyPoint        `json:"daily"`
	Insights   []string            `json:"insights"`
}

// Overview backs the dashboard.
type Overview struct {
	UserID              int64   `json:"user_id"`
	ActiveItems         int     `json:"active_items"`
	ExpiredItems        int     `json:"expired_items"`
	ConsumedItems       int     `json:"consumed_items"`
	ExpiringSoon        int     `json:"expiring_soon"`
	ExpiringToday       int     `json:"expiring_today"`
	InventoryValue      float64 `json:"inventory_value"`
	MonthExpense        float64 `json:"month_expense"`
	MonthWasteValue     float64 `json:"month_waste_value"`
	UnreadNotifications int     `json:"unread_notifications"`
	// MonthAlerts counts this month's notifications by type.
	MonthAlerts map[NotificationType]int `json:"month_alerts"`
}
