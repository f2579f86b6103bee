package media

import "strings"

const (
	kb = 1024
	mb = 1024 * kb
)

// Envelope is the largest media a platform accepts.
type Envelope struct {
	MaxBytes     int64
	MaxDimension int
}

// FitThreshold is the share of the ceiling below which compression is skipped.
const FitThreshold = 0.9

// Fits reports whether size is already within FitThreshold of the ceiling.
func (e Envelope) Fits(size int) bool {
	return float64(size) <= float64(e.MaxBytes)*FitThreshold
}

var defaultEnvelopes = map[Kind]Envelope{
	KindImage: {MaxBytes: 5 * mb, MaxDimension: 2048},
	KindVideo: {MaxBytes: 100 * mb, MaxDimension: 1920},
}

var platformEnvelopes = map[string]map[Kind]Envelope{
	"instagram": {
		KindImage: {MaxBytes: 8 * mb, MaxDimension: 1440},
		KindVideo: {MaxBytes: 100 * mb, MaxDimension: 1920},
	},
	"twitter": {
		KindImage: {MaxBytes: 5 * mb, MaxDimension: 4096},
		KindVideo: {MaxBytes: 512 * mb, MaxDimension: 1920},
	},
	"x": {
		KindImage: {MaxBytes: 5 * mb, MaxDimension: 4096},
		KindVideo: {MaxBytes: 512 * mb, MaxDimension: 1920},
	},
	"facebook": {
		KindImage: {MaxBytes: 10 * mb, MaxDimension: 2048},
		KindVideo: {MaxBytes: 1024 * mb, MaxDimension: 1920},
	},
	"linkedin": {
		KindImage: {MaxBytes: 8 * mb, MaxDimension: 4096},
		KindVideo: {MaxBytes: 200 * mb, MaxDimension: 1920},
	},
	"threads": {
		KindImage: {MaxBytes: 8 * mb, MaxDimension: 1440},
		KindVideo: {MaxBytes: 100 * mb, MaxDimension: 1920},
	},
	"tiktok": {
		KindImage: {MaxBytes: 20 * mb, MaxDimension: 1080},
		KindVideo: {MaxBytes: 287 * mb, MaxDimension: 1920},
	},
	"pinterest": {
		KindImage: {MaxBytes: 20 * mb, MaxDimension: 2048},
		KindVideo: {MaxBytes: 200 * mb, MaxDimension: 1920},
	},
	"bluesky": {
		KindImage: {MaxBytes: 1 * mb, MaxDimension: 2000},
		KindVideo: {MaxBytes: 50 * mb, MaxDimension: 1920},
	},
}

// EnvelopeFor returns the tightest envelope across all target platforms.
func EnvelopeFor(platforms []string, kind Kind) Envelope {
	if kind == KindUnknown {
		kind = KindImage
	}
	var out Envelope
	for _, p := range platforms {
		env, ok := platformEnvelopes[strings.ToLower(p)][kind]
		if !ok {
			env = defaultEnvelopes[kind]
		}
		out = tighter(out, env)
	}
	if out.MaxBytes == 0 {
		return defaultEnvelopes[kind]
	}
	return out
}

func tighter(a, b Envelope) Envelope {
	if a.MaxBytes == 0 || (b.MaxBytes > 0 && b.MaxBytes < a.MaxBytes) {
		a.MaxBytes = b.MaxBytes
	}
	if a.MaxDimension == 0 || (b.MaxDimension > 0 && b.MaxDimension < a.MaxDimension) {
		a.MaxDimension = b.MaxDimension
	}
	return a
}
