package mocks

//go:generate mockgen -destination=./mock_source.go -package=mocks signal-engine/internal/model BarSource
//go:generate mockgen -destination=./mock_writer.go -package=mocks signal-engine/internal/model SeriesWriter
