package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SourceKind tags the convention an Extractor understands.
type SourceKind string

const (
	SourceRecordingHeader SourceKind = "recording-header"
	SourceFilenamePattern SourceKind = "filename-pattern"
	SourceReportMetadata  SourceKind = "report-metadata"
)

// Extraction is the outcome of one extractor variant. A nil Window means
// the variant found a device identifier but no time information.
type Extraction struct {
	DeviceID string
	Window   *DeviceWindow
	// Clocked reports whether the window carries time-of-day precision.
	// Date-only filename stamps are too coarse to serve as report
	// reference timestamps.
	Clocked bool
}

// Extractor derives device and window information from one uploaded file.
type Extractor interface {
	Source() SourceKind
	Extract(file UploadedFile) (Extraction, error)
}

// headerExtractor reads a recording CSV: device identifier from preamble
// lines, time window from the first timestamp column of the data rows.
type headerExtractor struct{}

func (headerExtractor) Source() SourceKind { return SourceRecordingHeader }

func (headerExtractor) Extract(file UploadedFile) (Extraction, error) {
	f, err := os.Open(file.StagedPath)
	if err != nil {
		return Extraction{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var result Extraction
	var window *DeviceWindow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Extraction{}, fmt.Errorf("read recording csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		if result.DeviceID == "" {
			if id, ok := deviceFromPreamble(record); ok {
				result.DeviceID = id
				continue
			}
		}
		ts, ok := ParseTimestamp(record[0])
		if !ok {
			continue
		}
		if window == nil {
			window = &DeviceWindow{Start: ts, End: ts}
			continue
		}
		if ts.Before(window.Start) {
			window.Start = ts
		}
		if ts.After(window.End) {
			window.End = ts
		}
	}

	if window != nil {
		window.DeviceID = result.DeviceID
		result.Window = window
		result.Clocked = true
	}
	return result, nil
}

// deviceFromPreamble matches header lines such as "# Device: DEV42",
// "Device;DEV42" or "device_id,DEV42".
func deviceFromPreamble(record []string) (string, bool) {
	head := strings.TrimLeft(strings.TrimSpace(record[0]), "#")
	key := head
	value := ""
	if idx := strings.IndexAny(head, ":=;"); idx >= 0 {
		key = head[:idx]
		value = head[idx+1:]
	} else if len(record) > 1 {
		value = record[1]
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key != "device" && key != "device_id" && key != "appareil" {
		return "", false
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	if id, ok := normalizeDeviceToken(trimmed); ok {
		return id, true
	}
	return ParseDeviceID(trimmed)
}

// filenameExtractor derives device identifier and an optional point
// timestamp from the original filename.
type filenameExtractor struct{}

func (filenameExtractor) Source() SourceKind { return SourceFilenamePattern }

func (filenameExtractor) Extract(file UploadedFile) (Extraction, error) {
	result := Extraction{}
	if id, ok := ParseDeviceID(file.OriginalName); ok {
		result.DeviceID = id
	}
	if ts, hasClock, ok := ParseNameTimestamp(file.OriginalName); ok {
		result.Window = &DeviceWindow{DeviceID: result.DeviceID, Start: ts, End: ts}
		result.Clocked = hasClock
	}
	return result, nil
}

// reportMetadataExtractor scans raw PDF bytes for the document creation
// timestamp. A full PDF parser is overkill for one metadata key; the
// /CreationDate entry sits in the info dictionary near the start or end of
// the file and survives a plain byte scan.
type reportMetadataExtractor struct{}

func (reportMetadataExtractor) Source() SourceKind { return SourceReportMetadata }

const reportScanLimit = 1 << 20

func (reportMetadataExtractor) Extract(file UploadedFile) (Extraction, error) {
	f, err := os.Open(file.StagedPath)
	if err != nil {
		return Extraction{}, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, reportScanLimit))
	if err != nil {
		return Extraction{}, fmt.Errorf("read report: %w", err)
	}

	result := Extraction{}
	if ts, clocked, ok := parsePDFCreationDate(raw); ok {
		result.Window = &DeviceWindow{Start: ts, End: ts}
		result.Clocked = clocked
	}
	return result, nil
}

// Extractors returns the variant chain for a file kind, in priority order.
func Extractors(kind Kind) []Extractor {
	switch kind {
	case KindRecording:
		return []Extractor{headerExtractor{}, filenameExtractor{}}
	case KindReport:
		return []Extractor{reportMetadataExtractor{}, filenameExtractor{}}
	default:
		return nil
	}
}
