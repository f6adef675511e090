package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// segmentPrefix and segmentSuffix frame segment file names:
// events-000042.log.
const (
	segmentPrefix = "events-"
	segmentSuffix = ".log"
)

// segmentInfo tracks one on-disk segment and the sequence range it holds.
type segmentInfo struct {
	// path is the segment file location.
	path string
	// index is the rotation counter embedded in the file name.
	index uint64
	// lastSeq is the highest entry sequence written to this segment.
	lastSeq uint64
	// size is the current byte size of the segment.
	size int64
}

// segmentName formats the file name for a rotation index.
func segmentName(index uint64) string {
	return fmt.Sprintf("%s%06d%s", segmentPrefix, index, segmentSuffix)
}

// parseSegmentIndex extracts the rotation index from a segment file name.
func parseSegmentIndex(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}

	raw := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)

	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return index, true
}

// listSegments returns the segment files in dir ordered by rotation index.
func listSegments(dir string) ([]segmentInfo, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read queue dir: %w", err)
	}

	var segments []segmentInfo

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}

		index, ok := parseSegmentIndex(de.Name())
		if !ok {
			continue
		}

		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat segment %s: %w", de.Name(), err)
		}

		segments = append(segments, segmentInfo{
			path:  filepath.Join(dir, de.Name()),
			index: index,
			size:  info.Size(),
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].index < segments[j].index
	})

	return segments, nil
}

// readSegment parses the entries of one segment file. validBytes is the
// length of the prefix holding complete records; a torn trailing record
// from an unclean shutdown leaves validBytes short of the file size and
// must be truncated away before the segment is appended to again.
func readSegment(path string) (entries []Entry, validBytes int64, torn bool, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, 0, false, fmt.Errorf("open segment: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			validBytes++

			continue
		}

		var entry Entry
		if unmarshalErr := json.Unmarshal(line, &entry); unmarshalErr != nil {
			// Only a trailing partial record is expected after a crash;
			// stop here so a corrupt middle never reorders replay.
			torn = true

			break
		}

		entries = append(entries, entry)
		validBytes += int64(len(line)) + 1
	}

	if scanErr := scanner.Err(); scanErr != nil {
		return entries, validBytes, true, nil //nolint:nilerr // Partial reads degrade, they do not fail recovery.
	}

	return entries, validBytes, torn, nil
}

// maxRecordBytes bounds a single serialized entry line.
const maxRecordBytes = 1 << 20
