package models

// Query parameters of the operator endpoints.

type AuditQuery struct {
	Strategy string `query:"strategy"`
	Limit    int    `query:"limit" default:"50" validate:"min=1,max=500"`
}

type SetupQuery struct {
	Strategy string `query:"strategy" validate:"required"`
	Symbol   string `query:"symbol" validate:"required"`
	Limit    int    `query:"limit" default:"20" validate:"min=1,max=200"`
}

type StateQuery struct {
	Prefix string `query:"prefix"`
	Limit  int    `query:"limit" default:"50" validate:"min=1,max=500"`
}

type JobQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=PENDING RUNNING SUCCEEDED FAILED CANCELLED"`
	Type   string `query:"type"`
	Limit  int    `query:"limit" default:"50" validate:"min=1,max=500"`
}
