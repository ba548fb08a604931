// Package matching pairs recording files with report files by device
// identifier and time-window proximity. The engine is pure and
// deterministic: identical input sets always produce identical pairings.
package matching
