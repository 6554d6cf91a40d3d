// Package tag provides the read-only metadata surface exposed by demuxers
// (spec §6, "Metadata consumer" collaborator): title, artist, album, genre,
// year, track, comment, and embedded pictures.
package tag

// Picture is one embedded image (FLAC PICTURE block, ID3 APIC frame, MP4
// "covr" atom).
type Picture struct {
	MIMEType    string
	Description string
	Data        []byte
	IsFrontCover bool
}

// Tag is a read-only metadata snapshot. Instances are immutable once
// returned by a Demuxer; callers never get a borrowed reference into demuxer
// internals (spec §4.4, "Ownership and lifetimes").
type Tag interface {
	Title() string
	Artist() string
	Album() string
	Genre() string
	Year() string
	Track() string
	Comment() string
	PictureCount() int
	Picture(i int) (Picture, bool)
	FrontCover() (Picture, bool)
}

// nullTag is the default Tag for demuxers that found no metadata.
type nullTag struct{}

// Null is the shared zero-value Tag (spec §4.4.1, "tag() -> &dyn Tag //
// default: NullTag").
var Null Tag = nullTag{}

func (nullTag) Title() string               { return "" }
func (nullTag) Artist() string              { return "" }
func (nullTag) Album() string               { return "" }
func (nullTag) Genre() string               { return "" }
func (nullTag) Year() string                { return "" }
func (nullTag) Track() string               { return "" }
func (nullTag) Comment() string             { return "" }
func (nullTag) PictureCount() int           { return 0 }
func (nullTag) Picture(int) (Picture, bool) { return Picture{}, false }
func (nullTag) FrontCover() (Picture, bool) { return Picture{}, false }

// Static is a plain in-memory Tag snapshot, built by demuxers from whatever
// fields their container format actually carries (Vorbis comments, ID3v2
// frames, MP4 ilst atoms, FLAC VORBIS_COMMENT + PICTURE blocks).
type Static struct {
	TitleVal   string
	ArtistVal  string
	AlbumVal   string
	GenreVal   string
	YearVal    string
	TrackVal   string
	CommentVal string
	Pictures   []Picture
}

func (s *Static) Title() string   { return s.TitleVal }
func (s *Static) Artist() string  { return s.ArtistVal }
func (s *Static) Album() string   { return s.AlbumVal }
func (s *Static) Genre() string   { return s.GenreVal }
func (s *Static) Year() string    { return s.YearVal }
func (s *Static) Track() string   { return s.TrackVal }
func (s *Static) Comment() string { return s.CommentVal }

func (s *Static) PictureCount() int { return len(s.Pictures) }

func (s *Static) Picture(i int) (Picture, bool) {
	if i < 0 || i >= len(s.Pictures) {
		return Picture{}, false
	}
	return s.Pictures[i], true
}

func (s *Static) FrontCover() (Picture, bool) {
	for _, p := range s.Pictures {
		if p.IsFrontCover {
			return p, true
		}
	}
	if len(s.Pictures) > 0 {
		return s.Pictures[0], true
	}
	return Picture{}, false
}
