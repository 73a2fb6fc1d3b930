package models

import (
	"time"

	"github.com/google/uuid"
)

type Vendor struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	Name               string      `json:"name" db:"name"`
	ContactName        string      `json:"contactName" db:"contact_name"`
	Email              *string     `json:"email,omitempty" db:"email"`
	Phone              *string     `json:"phone,omitempty" db:"phone"`
	Services           []string    `json:"services" db:"services"`
	AverageRating      float64     `json:"averageRating" db:"average_rating"`
	TotalRatings       int         `json:"totalRatings" db:"total_ratings"`
	TotalJobsCompleted int         `json:"totalJobsCompleted" db:"total_jobs_completed"`
	PropertyIDs        []uuid.UUID `json:"properties" db:"property_ids"`
	IsActive           bool        `json:"isActive" db:"is_active"`
	CreatedAt          time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time   `json:"updatedAt" db:"updated_at"`
}

// RecordJob folds a verified job, and its rating if any, into the aggregates.
func (v *Vendor) RecordJob(rating *int) {
	v.TotalJobsCompleted++
	if rating != nil {
		v.RecordRating(*rating)
	}
}

// RecordRating folds one rating into the running average.
func (v *Vendor) RecordRating(rating int) {
	total := v.AverageRating*float64(v.TotalRatings) + float64(rating)
	v.TotalRatings++
	v.AverageRating = total / float64(v.TotalRatings)
}

func (v *Vendor) ServesProperty(propertyID uuid.UUID) bool {
	for _, id := range v.PropertyIDs {
		if id == propertyID {
			return true
		}
	}
	return false
}

func (v *Vendor) Clone() *Vendor {
	if v == nil {
		return nil
	}
	c := *v
	c.Email = cloneString(v.Email)
	c.Phone = cloneString(v.Phone)
	c.Services = append([]string(nil), v.Services...)
	c.PropertyIDs = append([]uuid.UUID(nil), v.PropertyIDs...)
	return &c
}

type VendorFilters struct {
	PropertyIDs []uuid.UUID
	// IncludeUnscoped keeps vendors with no property list when PropertyIDs is set.
	IncludeUnscoped bool
	Service         string
	ActiveOnly      bool
	Limit           int
	Offset          int
}
