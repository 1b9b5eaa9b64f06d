package livesync

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// entities mirror the backend's JSON representations.
// the backend is inconsistent about key casing (camelCase from newer endpoints,
// PascalCase from older ones). `encoding/json` falls back to case-insensitive
// field matching, so one set of tags covers both. see model_test.go.

type Role int

const (
	RoleUser Role = iota
	RoleAdmin
	RoleSuperAdmin
)

func (self Role) String() string {
	switch self {
	case RoleAdmin:
		return "Admin"
	case RoleSuperAdmin:
		return "SuperAdmin"
	default:
		return "User"
	}
}

func ParseRole(role string) Role {
	switch role {
	case "Admin", "admin":
		return RoleAdmin
	case "SuperAdmin", "superadmin":
		return RoleSuperAdmin
	default:
		return RoleUser
	}
}

type Identity struct {
	UserId      int64  `json:"userId"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
}

func (self *Identity) AtLeast(role Role) bool {
	if self == nil {
		return false
	}
	return role <= self.Role
}

type Ad struct {
	Id              int64     `json:"id"`
	OwnerId         int64     `json:"ownerId"`
	Title           string    `json:"title"`
	Year            int       `json:"year"`
	Color           string    `json:"color"`
	Mileage         int64     `json:"mileage"`
	Price           int64     `json:"price"`
	Gearbox         string    `json:"gearbox"`
	InsuranceMonths int       `json:"insuranceMonths"`
	Chassis         string    `json:"chassis"`
	ContactPhone    string    `json:"contactPhone"`
	Description     string    `json:"description"`
	ViewCount       int64     `json:"viewCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

type BiographyEntry struct {
	Id          int64     `json:"id"`
	OwnerId     int64     `json:"ownerId"`
	GroupKey    string    `json:"groupKey"`
	IsAdvanced  bool      `json:"isAdvanced"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Contact     string    `json:"contact"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type BroadcastMessage struct {
	Id           int64     `json:"id"`
	MessageId    string    `json:"messageId"`
	Text         string    `json:"text"`
	SenderName   string    `json:"senderName"`
	SenderHandle string    `json:"senderHandle"`
	ReceivedAt   time.Time `json:"receivedAt"`
	Link         string    `json:"link"`
}

// temp keys identify optimistic items before the server assigns a real id
func NewTempKey() string {
	return ulid.Make().String()
}
