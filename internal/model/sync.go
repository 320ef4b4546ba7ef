package model

import "time"

// RemoteRow is one food_diary row as returned by the backend.
type RemoteRow struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	CreatedAt   string   `json:"created_at"`
	DateKey     string   `json:"date_key"`
	ImageURL    string   `json:"image_url"`
	UserHints   string   `json:"user_hints"`
	MealType    string   `json:"meal_type"`
	FoodName    *string  `json:"food_name"`
	Calories    *float64 `json:"calories"`
	Protein     *float64 `json:"protein"`
	Fats        *float64 `json:"fats"`
	Carbs       *float64 `json:"carbs"`
	Weight      *float64 `json:"weight"`
	PortionSize *string  `json:"portion_size"`
	Portion     *string  `json:"portion"`
}

// PushItem is one entry of an append_to_food_diary payload.
type PushItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Calories float64  `json:"calories"`
	Protein  float64  `json:"protein"`
	Fats     float64  `json:"fats"`
	Carbs    float64  `json:"carbs"`
	Portion  string   `json:"portion"`
	Weight   *float64 `json:"weight"`
	FoodType string   `json:"foodType"`
	Meal     MealType `json:"meal"`
}

// PushRequest is a batched append for one user and date. BatchID is echoed
// to the backend so a resent batch can be recognized.
type PushRequest struct {
	BatchID string     `json:"p_batch_id"`
	UserID  string     `json:"p_user_id"`
	Date    string     `json:"p_date"`
	Entries []PushItem `json:"p_new_entries"`
}

type PushBatchStatus string

const (
	PushBatchPending   PushBatchStatus = "pending"
	PushBatchCompleted PushBatchStatus = "completed"
	PushBatchRejected  PushBatchStatus = "rejected"
)

// PushBatch is the local ledger row for a push submitted to the backend.
type PushBatch struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	EntryIDs    []string        `json:"entry_ids"`
	Status      PushBatchStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type SyncKind string

const (
	SyncPull SyncKind = "pull"
	SyncPush SyncKind = "push"
)

// SyncState is the last observed outcome of one kind of sync pass.
type SyncState struct {
	Kind        SyncKind   `json:"kind"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}
