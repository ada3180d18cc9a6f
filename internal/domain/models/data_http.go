package models

// Requests for the data HTTP endpoints. Defined in domain for consistency and reuse.

type DataRequest struct {
	Endpoint string `query:"endpoint" json:"endpoint"`
	Refresh  bool   `query:"refresh" json:"refresh"`
	Stale    bool   `query:"stale" json:"stale"`
}

type QuoteHistoryRequest struct {
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=10000"`
}

type ProviderNameRequest struct {
	Name string `query:"name" json:"name"`
}

type CacheClearRequest struct {
	Prefix string `query:"prefix" json:"prefix"`
}
