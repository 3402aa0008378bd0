package sqlstore

import (
	"database/sql"
	"time"

	"vkphotos/pkg/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlbum(row rowScanner) (*models.Album, error) {
	var (
		a             models.Album
		owner, group  sql.NullInt64
		created       int64
		updated, priv sql.NullInt64
	)
	err := row.Scan(
		&a.RemoteID,
		&owner,
		&group,
		&a.LocalID,
		&a.ThumbID,
		&a.ThumbSrc,
		&a.Title,
		&a.Description,
		&created,
		&updated,
		&a.Size,
		&priv,
	)
	if err != nil {
		return nil, err
	}
	a.Referrer = referrerFromColumns(owner, group)
	a.Created = fromUnix(created)
	if updated.Valid {
		a.Updated = fromUnix(updated.Int64)
	}
	if priv.Valid {
		p := models.Privacy(priv.Int64)
		a.Privacy = &p
	}
	return &a, nil
}

func scanPhoto(row rowScanner) (*models.Photo, error) {
	var (
		p                  models.Photo
		owner, group, user sql.NullInt64
		width, height      sql.NullInt64
		created            int64
	)
	err := row.Scan(
		&p.RemoteID,
		&owner,
		&group,
		&p.LocalID,
		&p.AlbumID,
		&user,
		&p.SrcSmall,
		&p.Src,
		&p.SrcBig,
		&p.SrcXBig,
		&p.SrcXXBig,
		&width,
		&height,
		&p.Likes,
		&p.Comments,
		&p.Tags,
		&p.Text,
		&created,
	)
	if err != nil {
		return nil, err
	}
	p.Referrer = referrerFromColumns(owner, group)
	p.Created = fromUnix(created)
	if user.Valid {
		id := uint64(user.Int64)
		p.AuthorID = &id
	}
	p.Width = int(width.Int64)
	p.Height = int(height.Int64)
	return &p, nil
}

func referrerArgs(ref models.Referrer) (owner, group interface{}) {
	if ref.IsGroup() {
		return nil, ref.ID
	}
	return ref.ID, nil
}

func referrerFromColumns(owner, group sql.NullInt64) models.Referrer {
	if group.Valid {
		return models.GroupRef(uint64(group.Int64))
	}
	if owner.Valid {
		return models.OwnerRef(uint64(owner.Int64))
	}
	return models.Referrer{}
}

// Timestamps are stored as unix seconds; the zero time is stored as 0.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func nullUnix(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func nullInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
