package recording

import "time"

// Parsed is an uploaded file with its derived device and time information,
// ready for matching.
type Parsed struct {
	File     UploadedFile
	DeviceID string
	// Window is the recording window, or the point reference for a report.
	Window DeviceWindow
	// HasReference is false for reports that carried no usable timestamp;
	// they remain matchable by device identifier alone.
	HasReference bool
}

// ParseFile runs the extractor variant chain for the file's kind and merges
// the results: the first variant to produce a device identifier wins it,
// and likewise for the time window. Returns an UnmatchedFile when the file
// cannot enter matching.
func ParseFile(file UploadedFile) (*Parsed, *UnmatchedFile) {
	extractors := Extractors(file.Kind)
	if len(extractors) == 0 {
		return nil, &UnmatchedFile{File: file, Reason: ReasonUnsupportedKind}
	}

	var (
		deviceID string
		window   *DeviceWindow
		readErr  error
	)
	for _, extractor := range extractors {
		extraction, err := extractor.Extract(file)
		if err != nil {
			if readErr == nil {
				readErr = err
			}
			continue
		}
		if deviceID == "" && extraction.DeviceID != "" {
			deviceID = extraction.DeviceID
		}
		if window != nil || extraction.Window == nil {
			continue
		}
		switch file.Kind {
		case KindRecording:
			// Recording windows must come from embedded timestamps, not
			// filename stamps.
			if extractor.Source() == SourceRecordingHeader {
				window = extraction.Window
			}
		case KindReport:
			// A report reference needs time-of-day precision to be useful
			// against a minutes-scale tolerance.
			if extraction.Clocked {
				window = extraction.Window
			}
		}
	}

	if deviceID == "" {
		if readErr != nil && window == nil {
			return nil, &UnmatchedFile{File: file, Reason: ReasonParseError}
		}
		return nil, &UnmatchedFile{File: file, Reason: ReasonUnparseableIdentifier}
	}

	switch file.Kind {
	case KindRecording:
		if window == nil || window.Start.IsZero() {
			// A recording without embedded timestamps cannot be published.
			return nil, &UnmatchedFile{File: file, Reason: ReasonParseError}
		}
		window.DeviceID = deviceID
		return &Parsed{File: file, DeviceID: deviceID, Window: *window, HasReference: true}, nil
	case KindReport:
		parsed := &Parsed{File: file, DeviceID: deviceID}
		if window != nil && !window.Start.IsZero() {
			window.DeviceID = deviceID
			parsed.Window = *window
			parsed.HasReference = true
		} else {
			parsed.Window = DeviceWindow{DeviceID: deviceID}
		}
		return parsed, nil
	default:
		return nil, &UnmatchedFile{File: file, Reason: ReasonUnsupportedKind}
	}
}

// Reference returns the report's reference timestamp.
func (p *Parsed) Reference() time.Time {
	return p.Window.Start
}
