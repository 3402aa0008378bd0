package photosync

import (
	"fmt"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/models"
)

// AlbumDraft is a normalized album record whose referrer is not resolved yet.
type AlbumDraft struct {
	// Scope is the raw owner field: positive for users, negative for groups.
	Scope int64
	Album models.Album
}

// PhotoDraft is a normalized photo record before resolution. Counters are
// nil when the record did not carry them.
type PhotoDraft struct {
	Scope        int64
	AlbumLocalID uint64
	AuthorID     *uint64
	Likes        *int
	Comments     *int
	Tags         *int
	Photo        models.Photo
}

// NormalizeAlbum maps a raw album record onto a draft.
func NormalizeAlbum(raw RawRecord) (*AlbumDraft, error) {
	scope, localID, err := identity(raw, "album", "aid", "id")
	if err != nil {
		return nil, err
	}

	d := &AlbumDraft{Scope: scope}
	a := &d.Album
	a.LocalID = localID

	if a.ThumbID, _, err = raw.Uint64("thumb_id"); err != nil {
		return nil, err
	}
	if a.ThumbSrc, err = raw.String("thumb_src"); err != nil {
		return nil, err
	}
	if a.Title, err = raw.String("title"); err != nil {
		return nil, err
	}
	if a.Description, err = raw.String("description"); err != nil {
		return nil, err
	}
	if a.Created, err = raw.Time("created"); err != nil {
		return nil, err
	}
	if a.Updated, err = raw.Time("updated"); err != nil {
		return nil, err
	}
	if a.Size, err = raw.Int(0, "size"); err != nil {
		return nil, err
	}

	// Newer API versions replace the numeric level with a privacy object;
	// only the numeric form is kept.
	if n, ok, perr := raw.Int64("privacy"); perr == nil && ok {
		p := models.Privacy(n)
		if p.Valid() {
			a.Privacy = &p
		}
	}

	return d, nil
}

// NormalizePhoto maps a raw photo record onto a draft.
func NormalizePhoto(raw RawRecord) (*PhotoDraft, error) {
	scope, localID, err := identity(raw, "photo", "pid", "id")
	if err != nil {
		return nil, err
	}

	albumLocalID, ok, err := raw.Uint64("aid", "album_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: photo %d has no album reference", errs.ErrInvalidRecord, localID)
	}

	d := &PhotoDraft{Scope: scope, AlbumLocalID: albumLocalID}
	p := &d.Photo
	p.LocalID = localID

	if author, ok, err := raw.Uint64("user_id"); err != nil {
		return nil, err
	} else if ok && author > 0 {
		d.AuthorID = &author
	}

	if err := normalizeSizes(raw, p); err != nil {
		return nil, err
	}
	if p.Text, err = raw.String("text"); err != nil {
		return nil, err
	}
	if p.Created, err = raw.Time("created", "date"); err != nil {
		return nil, err
	}

	if d.Likes, err = raw.Counter("likes"); err != nil {
		return nil, err
	}
	if d.Comments, err = raw.Counter("comments"); err != nil {
		return nil, err
	}
	if d.Tags, err = raw.Counter("tags"); err != nil {
		return nil, err
	}

	return d, nil
}

// identity extracts the owner scope and the local id of a record.
func identity(raw RawRecord, kind string, idKeys ...string) (int64, uint64, error) {
	localID, ok, err := raw.Uint64(idKeys...)
	if err != nil {
		return 0, 0, err
	}
	if !ok || localID == 0 {
		return 0, 0, fmt.Errorf("%w: %s record has no id", errs.ErrInvalidRecord, kind)
	}

	scope, ok, err := raw.Int64("owner_id")
	if err != nil {
		return 0, 0, err
	}
	if !ok || scope == 0 {
		return 0, 0, fmt.Errorf("%w: %s %d has no owner", errs.ErrInvalidRecord, kind, localID)
	}
	return scope, localID, nil
}

// Versioned size keys in ascending order, mapped onto the legacy variants.
var versionedSizes = []struct {
	key    string
	target func(p *models.Photo) *string
}{
	{"photo_75", func(p *models.Photo) *string { return &p.SrcSmall }},
	{"photo_130", func(p *models.Photo) *string { return &p.Src }},
	{"photo_604", func(p *models.Photo) *string { return &p.SrcBig }},
	{"photo_807", func(p *models.Photo) *string { return &p.SrcXBig }},
	{"photo_1280", func(p *models.Photo) *string { return &p.SrcXXBig }},
	{"photo_2560", func(p *models.Photo) *string { return &p.SrcXXBig }},
}

// sizeTypes maps the "type" of a sizes entry onto a variant. Later entries
// in the list override earlier ones for the same variant.
var sizeTypes = map[string]func(p *models.Photo) *string{
	"s": func(p *models.Photo) *string { return &p.SrcSmall },
	"m": func(p *models.Photo) *string { return &p.Src },
	"x": func(p *models.Photo) *string { return &p.SrcBig },
	"y": func(p *models.Photo) *string { return &p.SrcXBig },
	"z": func(p *models.Photo) *string { return &p.SrcXXBig },
	"w": func(p *models.Photo) *string { return &p.SrcXXBig },
}

func normalizeSizes(raw RawRecord, p *models.Photo) error {
	var err error
	legacy := []struct {
		key string
		dst *string
	}{
		{"src_small", &p.SrcSmall},
		{"src", &p.Src},
		{"src_big", &p.SrcBig},
		{"src_xbig", &p.SrcXBig},
		{"src_xxbig", &p.SrcXXBig},
	}
	for _, l := range legacy {
		if *l.dst, err = raw.String(l.key); err != nil {
			return err
		}
	}

	for _, v := range versionedSizes {
		url, err := raw.String(v.key)
		if err != nil {
			return err
		}
		if dst := v.target(p); url != "" && (*dst == "" || v.key == "photo_2560") {
			*dst = url
		}
	}

	if p.Width, err = raw.Int(0, "width"); err != nil {
		return err
	}
	if p.Height, err = raw.Int(0, "height"); err != nil {
		return err
	}

	sizes, err := raw.Objects("sizes")
	if err != nil {
		return err
	}
	for _, size := range sizes {
		typ, err := size.String("type")
		if err != nil {
			return err
		}
		target, ok := sizeTypes[typ]
		if !ok {
			continue
		}
		url, err := size.String("url", "src")
		if err != nil {
			return err
		}
		if dst := target(p); url != "" && (*dst == "" || typ == "w") {
			*dst = url
		}
		// Without explicit dimensions the largest variant defines them.
		w, _ := size.Int(0, "width")
		h, _ := size.Int(0, "height")
		if raw.Has("width") || w*h <= p.Width*p.Height {
			continue
		}
		p.Width, p.Height = w, h
	}
	return nil
}
