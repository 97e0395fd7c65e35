package transcoder

// Profile defines video encoding parameters for one rendition.
type Profile struct {
	Label    string
	Width    int
	Height   int
	Bitrate  string
	MaxRate  string
	BufSize  string
	AudioBPS string
}

// DefaultProfiles is the fixed encoding ladder, lowest to highest quality.
// Renditions are produced strictly in this order.
var DefaultProfiles = []Profile{
	{"240p", 426, 240, "400k", "428k", "600k", "64k"},
	{"360p", 640, 360, "800k", "856k", "1200k", "96k"},
	{"480p", 854, 480, "1400k", "1498k", "2100k", "128k"},
	{"720p", 1280, 720, "2800k", "2996k", "4200k", "128k"},
	{"1080p", 1920, 1080, "5000k", "5350k", "7500k", "192k"},
}

// bandwidths approximates the peak bandwidth per rendition for master
// playlist STREAM-INF tags.
var bandwidths = map[string]int{
	"240p":  500000,
	"360p":  900000,
	"480p":  1500000,
	"720p":  3000000,
	"1080p": 5500000,
}

const defaultBandwidth = 1000000

// BandwidthFor returns the approximate bandwidth for a resolution label.
func BandwidthFor(label string) int {
	if bw, ok := bandwidths[label]; ok {
		return bw
	}
	return defaultBandwidth
}

// PlaylistName returns the rendition playlist filename for a profile.
func (p Profile) PlaylistName() string {
	return p.Label + ".m3u8"
}

// SegmentPattern returns the segment filename pattern for a profile.
func (p Profile) SegmentPattern() string {
	return p.Label + "_%04d.ts"
}

// ProfileByLabel returns the profile matching label, or nil if not found.
func ProfileByLabel(profiles []Profile, label string) *Profile {
	for i := range profiles {
		if profiles[i].Label == label {
			return &profiles[i]
		}
	}
	return nil
}
