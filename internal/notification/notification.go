package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goevery/notifier/internal/ierr"
)

type Type string

const (
	TypeNewOrder        Type = "NEW_ORDER"
	TypeOrderCompleted  Type = "ORDER_COMPLETED"
	TypeLowStock        Type = "LOW_STOCK"
	TypeOutOfStock      Type = "OUT_OF_STOCK"
	TypeRestockNeeded   Type = "RESTOCK_NEEDED"
	TypeSystemAlert     Type = "SYSTEM_ALERT"
	TypeInventoryUpdate Type = "INVENTORY_UPDATE"
)

type Category string

const (
	CategoryInfo    Category = "info"
	CategorySuccess Category = "success"
	CategoryWarning Category = "warning"
	CategoryDanger  Category = "danger"
)

const genericIcon = "🔔"

var icons = map[Type]string{
	TypeNewOrder:        "📦",
	TypeOrderCompleted:  "✅",
	TypeLowStock:        "⚠️",
	TypeOutOfStock:      "🚨",
	TypeRestockNeeded:   "📈",
	TypeSystemAlert:     "🔔",
	TypeInventoryUpdate: "🗃️",
}

var categories = map[Type]Category{
	TypeNewOrder:        CategoryInfo,
	TypeOrderCompleted:  CategorySuccess,
	TypeLowStock:        CategoryWarning,
	TypeOutOfStock:      CategoryDanger,
	TypeRestockNeeded:   CategoryInfo,
	TypeSystemAlert:     CategoryInfo,
	TypeInventoryUpdate: CategoryInfo,
}

func (t Type) Known() bool {
	_, ok := categories[t]
	return ok
}

func (t Type) Icon() string {
	if icon, ok := icons[t]; ok {
		return icon
	}

	return genericIcon
}

func (t Type) Category() Category {
	if category, ok := categories[t]; ok {
		return category
	}

	return CategoryInfo
}

type Notification struct {
	Id        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
	Read      bool      `json:"read"`
	TargetURL string    `json:"targetUrl,omitempty"`
}

// Parse decodes an inbound payload. The read flag is client-local and
// always starts false; a missing timestamp becomes receivedAt.
func Parse(payload []byte, receivedAt time.Time) (Notification, error) {
	var n Notification

	decoder := json.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(&n); err != nil {
		return Notification{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Notification{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("unexpected data after notification"))
	}

	if err := n.Validate(); err != nil {
		return Notification{}, err
	}

	n.Read = false
	if n.Timestamp.IsZero() {
		n.Timestamp = Timestamp{receivedAt}
	}

	return n, nil
}

func (n Notification) Validate() error {
	if strings.TrimSpace(n.Id) == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("notification id is required"))
	}

	if strings.TrimSpace(string(n.Type)) == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("notification type is required"))
	}

	return nil
}

// SortByTimestamp orders a copy of items newest first by event time,
// keeping arrival order for equal timestamps.
func SortByTimestamp(items []Notification) []Notification {
	sorted := make([]Notification, len(items))
	copy(sorted, items)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp.Time)
	})

	return sorted
}

func FormatRelative(timestamp time.Time, now time.Time) string {
	elapsed := now.Sub(timestamp)

	switch {
	case elapsed < time.Minute:
		return "now"
	case elapsed < time.Hour:
		return strconv.Itoa(int(elapsed/time.Minute)) + " min ago"
	case elapsed < 24*time.Hour:
		return strconv.Itoa(int(elapsed/time.Hour)) + "h ago"
	case elapsed < 7*24*time.Hour:
		return strconv.Itoa(int(elapsed/(24*time.Hour))) + "d ago"
	default:
		return timestamp.Format("02 Jan 15:04")
	}
}
