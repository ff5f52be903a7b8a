package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// statsColumns is the fixed header of stats.csv.
var statsColumns = []string{"train_loss", "valid_loss", "train_acc@1", "valid_acc@1", "train_acc@3", "valid_acc@3"}

// statsWriter appends one row per epoch to stats.csv. Close is idempotent so
// both the exception path and the normal path may call it.
type statsWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// openStats truncates and writes the header for fresh runs. Resumed runs
// append below the rows already present.
func openStats(path string, resume bool) (*statsWriter, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stats %s: %w", path, err)
	}
	s := &statsWriter{path: path, file: file, writer: csv.NewWriter(file)}
	if !resume {
		if err := s.write(statsColumns); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

// WriteRow records the named values in header order. Missing values are
// written as empty fields; unknown names are ignored.
func (s *statsWriter) WriteRow(values map[string]float64) error {
	record := make([]string, len(statsColumns))
	for i, column := range statsColumns {
		if v, ok := values[column]; ok {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return s.write(record)
}

func (s *statsWriter) write(record []string) error {
	if s.file == nil {
		return fmt.Errorf("write stats %s: file is closed", s.path)
	}
	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("write stats %s: %w", s.path, err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("write stats %s: %w", s.path, err)
	}
	return nil
}

func (s *statsWriter) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	s.writer.Flush()
	flushErr := s.writer.Error()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush stats %s: %w", s.path, flushErr)
	}
	return closeErr
}
