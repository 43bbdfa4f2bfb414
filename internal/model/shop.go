package model

import "time"

type Shop struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	TypeID    int64     `gorm:"not null;default:0;index" json:"type_id"`
	Images    string    `gorm:"size:1024" json:"images"`
	Area      string    `gorm:"size:128" json:"area"`
	Address   string    `gorm:"size:255" json:"address"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	AvgPrice  int64     `json:"avg_price"`
	Sold      int       `gorm:"not null;default:0" json:"sold"`
	Comments  int       `gorm:"not null;default:0" json:"comments"`
	Score     int       `gorm:"not null;default:0" json:"score"`
	OpenHours string    `gorm:"size:32" json:"open_hours"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Shop) TableName() string { return "shops" }
