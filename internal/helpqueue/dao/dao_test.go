package dao

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

func TestTransitionFilterGuardsFullState(t *testing.T) {
	id := primitive.NewObjectID()
	prev := &model.HelpRequest{
		ID:            id,
		Status:        model.StatusUnclaimed,
		CreationStage: model.StageConfirm,
		Mentors:       []int64{},
	}

	filter := transitionFilter(prev)
	require.Equal(t, id, filter["_id"])
	require.Equal(t, model.StatusUnclaimed, filter["status"])
	require.Equal(t, model.StageConfirm, filter["creation_stage"])
	require.Equal(t, []int64{}, filter["mentors"],
		"an empty mentor list still participates in the guard")
	require.Len(t, filter, 4)
}

func TestTransitionUpdateSetsOnlyMutableFields(t *testing.T) {
	next := &model.HelpRequest{
		ID:            primitive.NewObjectID(),
		Author:        100,
		Status:        model.StatusClaimed,
		CreationStage: model.StageConfirm,
		ClassName:     "CMPSC 16",
		Title:         "a title",
		Description:   "a description",
		Mentors:       []int64{200},
		MessageID:     42,
	}

	update := transitionUpdate(next)
	set, ok := update["$set"].(bson.M)
	require.True(t, ok)

	require.Equal(t, model.StatusClaimed, set["status"])
	require.Equal(t, []int64{200}, set["mentors"])
	require.Equal(t, 42, set["message_id"])

	// identity fields are never rewritten
	require.NotContains(t, set, "_id")
	require.NotContains(t, set, "author")
	require.NotContains(t, set, "channel_id")
	require.NotContains(t, set, "tag")
	require.NotContains(t, set, "created_at")
}
