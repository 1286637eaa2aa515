// Package models defines data structures shared by the movie recommender.
package models

import "time"

// DateLayout is the calendar date format used in the catalog and in requests.
const DateLayout = "2006-01-02"

// MovieRecord is one row of the catalog.
// Records are immutable once loaded.
type MovieRecord struct {
	Title       string    `json:"title"`
	Overview    string    `json:"overview"`
	ReleaseDate time.Time `json:"release_date"`
	Popularity  float64   `json:"popularity"`
	VoteAverage float64   `json:"vote_average"`
}

// Recommendation is a ranked catalog entry with its similarity score.
type Recommendation struct {
	Title      string  `json:"title" yaml:"title"`
	Overview   string  `json:"overview" yaml:"overview"`
	Score      float64 `json:"score" yaml:"score"`
	Popularity float64 `json:"popularity" yaml:"popularity"`
	Rating     float64 `json:"rating" yaml:"rating"`
}

// ModelInfo identifies the model that served a recommendation.
type ModelInfo struct {
	ModelName string `json:"model_name" yaml:"model_name"`
	ModelType string `json:"model_type" yaml:"model_type"`
	ModelPath string `json:"model_path" yaml:"model_path"`
}
