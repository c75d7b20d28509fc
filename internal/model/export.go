package model

import "time"

// Export records one personnel pull and the CSV file it produced.
// Portal credentials are never part of it; Account is the login email only.
type Export struct {
	ID             string    `json:"id"`
	Account        string    `json:"account"`
	Division       int       `json:"division"`
	RequestedLimit int       `json:"requested_limit"`
	RowCount       int       `json:"row_count"`
	Columns        []string  `json:"columns"`
	StoragePath    string    `json:"storage_path"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
}
