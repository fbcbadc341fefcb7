package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotifTypeExpiryWarning NotificationType = "expiry_warning"
	NotifTypeExpiryAlert   NotificationType = "expiry_alert"
	NotifTypeLowStock      NotificationType = "low_stock"
	NotifTypeRestock       NotificationType = "restock"
	NotifTypeSystem        NotificationType = "system"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

type Notification struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	Type      NotificationType   `json:"type"`
	Priority  Priority           `json:"priority"`
	Status    NotificationStatus `json:"status"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	ItemID    *int64             `json:"item_id,omitempty"`
	Tier      string             `json:"tier,omitempty"`
	DayKey    string             `json:"day,omitempty"`
	DedupKey  string             `json:"-"`
	Payload   Payload            `json:"payload"`
	CreatedAt time.Time          `json:"created_at"`
	ReadAt    *time.Time         `json:"read_at,omitempty"`
}

// MarshalJSON writes the payload inside its kind envelope.
func (n Notification) MarshalJSON() ([]byte, error) {
	type alias Notification
	env, err := NewEnvelope(n.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Payload Envelope `json:"payload"`
	}{alias(n), env})
}

// UnmarshalJSON reads the payload back out of its kind envelope.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodePayload(aux.Payload)
	if err != nil {
		return err
	}
	n.Payload = p
	return nil
}

type PayloadKind string

const (
	PayloadExpiry PayloadKind = "expiry"
	PayloadStock  PayloadKind = "stock"
	PayloadDigest PayloadKind = "digest"
	PayloadSystem PayloadKind = "system"
)

// Payload is the type-specific part of a notification.
type Payload interface {
	Kind() PayloadKind
}

type ExpiryPayload struct {
	ItemName   string `json:"item_name"`
	Bucket     string `json:"bucket"`
	DaysLeft   int    `json:"days_left"`
	ExpiryDate string `json:"expiry_date"`
}

func (ExpiryPayload) Kind() PayloadKind { return PayloadExpiry }

type StockPayload struct {
	ItemName    string  `json:"item_name"`
	Quantity    float64 `json:"quantity"`
	MinQuantity float64 `json:"min_quantity"`
}

func (StockPayload) Kind() PayloadKind { return PayloadStock }

type DigestPayload struct {
	PeriodStart     string   `json:"period_start"`
	PeriodEnd       string   `json:"period_end"`
	Alerts          int      `json:"alerts"`
	Items           []string `json:"items"`
	Expense         float64  `json:"expense"`
	WasteValue      float64  `json:"waste_value"`
	WastePercentage float64  `json:"waste_percentage"`
}

func (DigestPayload) Kind() PayloadKind { return PayloadDigest }

type SystemPayload struct {
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

func (SystemPayload) Kind() PayloadKind { return PayloadSystem }

// Envelope is the stable wire shape shared by every payload kind.
type Envelope struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope wraps p. A nil payload becomes an empty system payload.
func NewEnvelope(p Payload) (Envelope, error) {
	if p == nil {
		p = SystemPayload{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return Envelope{Kind: p.Kind(), Data: data}, nil
}

// EncodePayload returns the stored JSON form of p.
func EncodePayload(p Payload) ([]byte, error) {
	env, err := NewEnvelope(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return SystemPayload{}, nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	if len(env.Data) == 0 {
		env.Data = []byte("{}")
	}

	var (
		p   Payload
		err error
	)
	switch env.Kind {
	case PayloadExpiry:
		var v ExpiryPayload
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadStock:
		var v StockPayload
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadDigest:
		var v DigestPayload
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadSystem, "":
		var v SystemPayload
		err = json.Unmarshal(env.Data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}
	return p, nil
}

// ItemDedupKey is the idempotency key of an item notification: at most one
// notification exists per user for a given item, tier and day.
func ItemDedupKey(itemID int64, tier, day string) string {
	return fmt.Sprintf("item:%d:%s:%s", itemID, tier, day)
}

// PeriodDedupKey keys notifications that summarise a period, such as digests.
func PeriodDedupKey(kind, period string) string {
	return kind + ":" + period
}
