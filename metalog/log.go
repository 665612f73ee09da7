package metalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cdpfgl/server/cdperrors"
)

// Log is the append-only collection of per-host metadata logs rooted
// at a single directory.
type Log struct {
	root string
	log  *logrus.Entry

	mu        sync.Mutex // guards hostLocks
	hostLocks map[string]*sync.Mutex
}

// Open prepares the metadata log root for use.
func Open(root string, log *logrus.Entry) (*Log, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("metalog: create root: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Log{
		root:      root,
		log:       log.WithField("component", "metalog"),
		hostLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (l *Log) hostPath(host string) string {
	return filepath.Join(l.root, host)
}

func (l *Log) lockFor(host string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.hostLocks[host]
	if !ok {
		m = &sync.Mutex{}
		l.hostLocks[host] = m
	}
	return m
}

// Append serialises concurrent appends for the same host and writes
// the encoded record plus a terminating newline.
func (l *Log) Append(host string, r Record) error {
	lock := l.lockFor(host)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(l.hostPath(host), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("metalog: open host log: %w", err)
	}
	defer f.Close()

	line := Encode(r) + "\n"
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("metalog: append: %w", err)
	}
	return f.Sync()
}

// Filter selects which records Scan returns.
type Filter struct {
	// NameRegexp, when non-nil, must match the decoded name. It is
	// applied as given; query.Files compiles it with (?i), which is
	// what makes filename queries case-insensitive.
	NameRegexp *regexp.Regexp

	// ExactTime, when non-zero, requires ModifyTime to equal it exactly.
	ExactTime uint64
	// AfterTime, BeforeTime bound ModifyTime inclusively when non-zero.
	AfterTime  uint64
	BeforeTime uint64

	// Reduced requests the cheaper partial decode.
	Reduced bool
	// LatestOnly collapses the result to the newest record per name.
	LatestOnly bool
}

func (f Filter) matches(r Record) bool {
	if f.NameRegexp != nil && !f.NameRegexp.MatchString(r.Name) {
		return false
	}
	if f.ExactTime != 0 && r.ModifyTime != f.ExactTime {
		return false
	}
	if f.AfterTime != 0 && r.ModifyTime < f.AfterTime {
		return false
	}
	if f.BeforeTime != 0 && r.ModifyTime > f.BeforeTime {
		return false
	}
	return true
}

// chunkSize is the buffered read size used while scanning a log for
// logical line boundaries.
const chunkSize = 1 << 20 // 1 MiB

// Scan reads host's log sequentially and returns the records matching
// filter, sorted by (name, mtime) ascending. An unknown host yields an
// empty, non-error result.
func (l *Log) Scan(host string, filter Filter) ([]Record, error) {
	f, err := os.Open(l.hostPath(host))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("metalog: open host log: %w", err)
	}
	defer f.Close()

	var out []Record
	err = scanLines(f, func(line string) error {
		r, err := Decode(line, filter.Reduced)
		if err != nil {
			l.log.WithError(err).WithField("host", host).Warn("skipping malformed metadata line")
			return nil
		}
		if filter.matches(r) {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("metalog: scan: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ModifyTime < out[j].ModifyTime
	})

	if filter.LatestOnly {
		out = latestPerPath(out)
	}

	return out, nil
}

func latestPerPath(records []Record) []Record {
	latest := make(map[string]Record, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := latest[r.Name]; !ok {
			order = append(order, r.Name)
		}
		if cur, ok := latest[r.Name]; !ok || r.ModifyTime >= cur.ModifyTime {
			latest[r.Name] = r
		}
	}
	sort.Strings(order)
	out := make([]Record, 0, len(order))
	for _, name := range order {
		out = append(out, latest[name])
	}
	return out
}

// minTopLevelCommas is the number of unquoted commas that must appear
// on a logical line before a newline is allowed to end it — 12. A
// complete record has fieldCount (14) fields and so at least 13
// unquoted commas (more when the digest sequence holds several
// digests), which always meets this threshold.
const minTopLevelCommas = fieldCount - 2

// scanLines reads r in chunkSize buffers and reassembles logical
// lines: a newline only terminates a line once it is outside a quoted
// field and at least minTopLevelCommas top-level commas have been
// seen, so base64-shielded names/links and the trailing digest list
// can straddle buffer boundaries without being mis-split.
func scanLines(r io.Reader, emit func(line string) error) error {
	br := bufio.NewReaderSize(r, chunkSize)
	var cur []byte
	inQuotes := false
	commas := 0

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch b {
		case '"':
			inQuotes = !inQuotes
			cur = append(cur, b)
		case ',':
			if !inQuotes {
				commas++
			}
			cur = append(cur, b)
		case '\n':
			if !inQuotes && commas >= minTopLevelCommas {
				if err := emit(string(cur)); err != nil {
					return err
				}
				cur = cur[:0]
				commas = 0
				continue
			}
			cur = append(cur, b)
		default:
			cur = append(cur, b)
		}
	}

	if len(cur) > 0 {
		return fmt.Errorf("%w: trailing unterminated record", cdperrors.ErrMalformed)
	}
	return nil
}
