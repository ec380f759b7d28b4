package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Party is the coarse side of a support conversation. Admin and superadmin
// share one inbox, so both collapse to PartyStaff for read tracking.
type Party string

const (
	PartyUser  Party = "user"
	PartyStaff Party = "staff"
)

func (r Role) Party() Party {
	if r == RoleAdmin || r == RoleSuperadmin {
		return PartyStaff
	}
	return PartyUser
}

func (r Role) IsStaff() bool {
	return r.Party() == PartyStaff
}

func (p Party) Counterpart() Party {
	if p == PartyStaff {
		return PartyUser
	}
	return PartyStaff
}

type User struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name  string    `gorm:"not null" json:"name"`
	Email string    `gorm:"uniqueIndex;not null" json:"email"`

	Role     Role `gorm:"type:varchar(20);not null;index" json:"role"`
	IsActive bool `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
