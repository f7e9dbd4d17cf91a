package store

import "time"

type Sample struct {
	Time  time.Time
	Value float64
}

// Series is one labelled time series returned by a range query.
type Series struct {
	Labels  map[string]string
	Samples []Sample
}
