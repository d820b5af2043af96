package store

import "time"

// Test is a learned test case, identified by file path and full title.
type Test struct {
	ID        int64     `yaml:"id" json:"id"`
	FilePath  string    `yaml:"file_path" json:"file_path"`
	TestName  string    `yaml:"test_name" json:"test_name"` // ancestors and title joined by " > "
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Function is a covered function. A different span is a different function.
type Function struct {
	ID           int64     `yaml:"id" json:"id"`
	FilePath     string    `yaml:"file_path" json:"file_path"`
	FunctionName string    `yaml:"function_name" json:"function_name"`
	StartLine    int       `yaml:"start_line" json:"start_line"`
	EndLine      int       `yaml:"end_line" json:"end_line"`
	CommitHash   string    `yaml:"commit_hash,omitempty" json:"commit_hash,omitempty"` // empty when unknown
	CreatedAt    time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at" json:"updated_at"`
}

// Key returns the function's natural key.
func (f *Function) Key() FunctionKey {
	return FunctionKey{
		FilePath:  f.FilePath,
		Name:      f.FunctionName,
		StartLine: f.StartLine,
		EndLine:   f.EndLine,
	}
}

// Link is an edge between a test and a function it exercised.
type Link struct {
	ID         int64     `yaml:"id" json:"id"`
	TestID     int64     `yaml:"test_id" json:"test_id"`
	FunctionID int64     `yaml:"function_id" json:"function_id"`
	CreatedAt  time.Time `yaml:"created_at" json:"created_at"`
}

// FunctionKey is the natural key of a Function.
type FunctionKey struct {
	FilePath  string
	Name      string
	StartLine int
	EndLine   int
}

// Stats holds row counts for the three relations.
type Stats struct {
	Tests     int `yaml:"tests" json:"tests"`
	Functions int `yaml:"functions" json:"functions"`
	Links     int `yaml:"links" json:"links"`
}
