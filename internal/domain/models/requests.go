package models

// Requests for the fare HTTP endpoints. Defined in domain for consistency and reuse.

type IngestRequest struct {
	SourceID string      `json:"source_id" validate:"required"`
	Records  []RawRecord `json:"records" validate:"required,min=1,max=5000"`
}

type ForecastRequest struct {
	RouteID string `query:"route_id" json:"route_id" validate:"required"`
	Dates   string `query:"dates" json:"dates" validate:"required"`
}

type MonthlyRequest struct {
	RouteID string `query:"route_id" json:"route_id" validate:"required"`
	Months  int    `query:"months" json:"months" default:"6" validate:"gte=1,lte=12"`
}

type RetrainRequest struct {
	RouteID string `query:"route_id" json:"route_id" validate:"required"`
	Async   bool   `query:"async" json:"async"`
}

type RollbackRequest struct {
	RouteID   string `query:"route_id" json:"route_id" validate:"required"`
	VersionID int64  `query:"version_id" json:"version_id" validate:"gte=1"`
}

type RouteRequest struct {
	RouteID string `param:"route_id" validate:"required"`
}

type ObservationsRequest struct {
	RouteID string `param:"route_id" validate:"required"`
	From    string `query:"from"`
	To      string `query:"to"`
	Limit   int    `query:"limit" default:"1000" validate:"gte=1,lte=50000"`
}
