// Package model defines the data model for the help-queue service.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status is the lifecycle status of a help request.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusUnclaimed Status = "unclaimed"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Active reports whether a request in this status still occupies
// the author's single active-request slot.
func (s Status) Active() bool {
	switch s {
	case StatusDraft, StatusUnclaimed, StatusClaimed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Intake stages of a draft request, in order.
const (
	StageClass       = 1
	StageTitle       = 2
	StageDescription = 3
	StageConfirm     = 4
)

const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 400
)

// HelpRequest is the persisted record of one help request.
type HelpRequest struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"mongo_id"`
	Tag           string             `bson:"tag" json:"tag"`
	Author        int64              `bson:"author" json:"author"`
	Status        Status             `bson:"status" json:"status"`
	CreationStage int                `bson:"creation_stage" json:"creation_stage"`
	ClassName     string             `bson:"class_name,omitempty" json:"class_name"`
	Title         string             `bson:"title,omitempty" json:"title"`
	Description   string             `bson:"description,omitempty" json:"description"`
	Mentors       []int64            `bson:"mentors" json:"mentors"`
	Canceler      int64              `bson:"canceler,omitempty" json:"canceler,omitempty"`
	ChannelID     int64              `bson:"channel_id" json:"channel_id"`
	MessageID     int                `bson:"message_id,omitempty" json:"message_id,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	ModifiedAt    time.Time          `bson:"modified_at" json:"modified_at"`
}

// HasMentor reports whether uid already claimed the request.
func (r *HelpRequest) HasMentor(uid int64) bool {
	for _, m := range r.Mentors {
		if m == uid {
			return true
		}
	}
	return false
}

// PrimaryMentor returns the first mentor, or 0 when unclaimed.
func (r *HelpRequest) PrimaryMentor() int64 {
	if len(r.Mentors) == 0 {
		return 0
	}
	return r.Mentors[0]
}

// Published reports whether the request has a live queue posting
// (it keeps its message ref even after reaching a terminal status).
func (r *HelpRequest) Published() bool {
	return r.MessageID != 0
}

// Class is a registered course that may receive help requests.
// Members are the users enrolled via the class-roles command.
type Class struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"mongo_id"`
	Name       string             `bson:"name" json:"name"`
	Members    []int64            `bson:"members" json:"members"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	ModifiedAt time.Time          `bson:"modified_at" json:"modified_at"`
}
