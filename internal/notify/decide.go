package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
)

const (
	tierLowStock = "low_stock"
	tierRestock  = "restock"
)

// decision is one notification the dispatcher wants to create for an item.
type decision struct {
	Type     model.NotificationType
	Priority model.Priority
	Tier     string
	Day      string
	Title    string
	Message  string
	Payload  model.Payload
}

func (d decision) key(itemID int64) string {
	return model.ItemDedupKey(itemID, d.Tier, d.Day)
}

// decide classifies item and returns the notifications it qualifies for.
// An item can qualify for both an expiry and a stock notification.
func decide(item model.GroceryItem, prefs model.UserPreferences, now time.Time) ([]decision, expiry.Result, error) {
	exp, err := item.Expiry(now.Location())
	if err != nil {
		return nil, expiry.Result{}, err
	}
	res := expiry.Classify(exp, now, prefs.ExpiryAlertDays)
	today := expiry.DayKey(now)

	var out []decision
	switch {
	case res.Bucket.Alerting():
		typ := model.NotifTypeExpiryWarning
		if res.Bucket == expiry.BucketToday {
			typ = model.NotifTypeExpiryAlert
		}
		out = append(out, decision{
			Type:     typ,
			Priority: res.Bucket.Priority(),
			Tier:     string(res.Bucket),
			Day:      today,
			Title:    expiryTitle(item.Name, res),
			Message:  expiryMessage(item, res),
			Payload: model.ExpiryPayload{
				ItemName:   item.Name,
				Bucket:     string(res.Bucket),
				DaysLeft:   res.DaysLeft,
				ExpiryDate: item.ExpiryDate,
			},
		})
	case res.Bucket == expiry.BucketExpired:
		// Keyed on the expiry date rather than today, so an expired item
		// is announced once and then left to auto-expire.
		out = append(out, decision{
			Type:     model.NotifTypeExpiryAlert,
			Priority: res.Bucket.Priority(),
			Tier:     string(res.Bucket),
			Day:      item.ExpiryDate,
			Title:    fmt.Sprintf("%s has expired", item.Name),
			Message:  fmt.Sprintf("%s expired on %s. Remove it from your pantry.", item.Name, item.ExpiryDate),
			Payload: model.ExpiryPayload{
				ItemName:   item.Name,
				Bucket:     string(res.Bucket),
				DaysLeft:   res.DaysLeft,
				ExpiryDate: item.ExpiryDate,
			},
		})
	}

	if item.MinQuantity > 0 {
		stock := model.StockPayload{ItemName: item.Name, Quantity: item.Quantity, MinQuantity: item.MinQuantity}
		switch {
		case item.Quantity == 0:
			out = append(out, decision{
				Type:     model.NotifTypeRestock,
				Priority: model.PriorityLow,
				Tier:     tierRestock,
				Day:      today,
				Title:    fmt.Sprintf("Time to restock %s", item.Name),
				Message:  fmt.Sprintf("You are out of %s.", item.Name),
				Payload:  stock,
			})
		case item.Quantity <= item.MinQuantity:
			out = append(out, decision{
				Type:     model.NotifTypeLowStock,
				Priority: model.PriorityMedium,
				Tier:     tierLowStock,
				Day:      today,
				Title:    fmt.Sprintf("%s is running low", item.Name),
				Message:  fmt.Sprintf("Only %s left (minimum %s).", formatQty(item.Quantity), formatQty(item.MinQuantity)),
				Payload:  stock,
			})
		}
	}
	return out, res, nil
}

func expiryTitle(name string, res expiry.Result) string {
	switch res.Bucket {
	case expiry.BucketToday:
		return fmt.Sprintf("%s expires today", name)
	case expiry.BucketTomorrow:
		return fmt.Sprintf("%s expires tomorrow", name)
	default:
		return fmt.Sprintf("%s expires in %d days", name, res.DaysLeft)
	}
}

func expiryMessage(item model.GroceryItem, res expiry.Result) string {
	if res.Bucket == expiry.BucketToday {
		return fmt.Sprintf("Use your %s today before it goes to waste.", item.Name)
	}
	return fmt.Sprintf("%s expires on %s.", item.Name, item.ExpiryDate)
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
