// Package sqlstore persists the synchronization engine's entities in SQLite
// (modernc.org/sqlite) or MySQL (go-sql-driver/mysql). Both dialects share
// one implementation; only upsert syntax and error codes differ.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/models"
	"vkphotos/pkg/store"
	"vkphotos/pkg/store/sqlstore/migrations"
)

var albumColumns = []string{
	"remote_id", "owner_id", "group_id", "local_id", "thumb_id", "thumb_src",
	"title", "description", "created", "updated", "size", "privacy",
}

var photoColumns = []string{
	"remote_id", "owner_id", "group_id", "local_id", "album_id", "user_id",
	"src_small", "src", "src_big", "src_xbig", "src_xxbig", "width", "height",
	"likes", "comments", "tags", "text", "created",
}

// Store is a store.Store backed by database/sql.
type Store struct {
	db  *sql.DB
	d   *dialect
	log logger.Logger

	upsertAlbumSQL string
	upsertPhotoSQL string
	ensureUserSQL  string
	ensureGroupSQL string
	addLikeSQL     string
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies embedded migrations.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	return open(ctx, sqliteDialect, dsn, opts...)
}

// OpenMySQL connects to the MySQL database named by dsn and applies
// embedded migrations.
func OpenMySQL(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.MultiStatements = false
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return open(ctx, mysqlDialect, cfg.FormatDSN(), opts...)
}

func open(ctx context.Context, d *dialect, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}
	if err := applyMigrations(ctx, db, d, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:             db,
		d:              d,
		log:            logger.NewNopLogger(),
		upsertAlbumSQL: d.upsert("albums", "remote_id", albumColumns),
		upsertPhotoSQL: d.upsert("photos", "remote_id", photoColumns),
		ensureUserSQL:  d.insertIfAbsent("users", []string{"id", "created_at"}),
		ensureGroupSQL: d.insertIfAbsent("vk_groups", []string{"id", "created_at"}),
		addLikeSQL:     d.insertIfAbsent("photo_likes", []string{"photo_id", "user_id"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log.DebugWithFields("store opened", map[string]interface{}{"dialect": d.name})
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) EnsureUsers(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return ctx.Err()
	}
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("%w: user id 0", errs.ErrInvalidRecord)
		}
	}
	now := toUnix(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.ensureUserSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id, now); err != nil {
				return fmt.Errorf("ensure user %d: %w", id, err)
			}
		}
		return nil
	})
}

func (s *Store) EnsureGroup(ctx context.Context, id uint64) error {
	if id == 0 {
		return fmt.Errorf("%w: group id 0", errs.ErrInvalidRecord)
	}
	if _, err := s.db.ExecContext(ctx, s.ensureGroupSQL, id, toUnix(time.Now())); err != nil {
		return fmt.Errorf("ensure group %d: %w", id, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var created int64
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM users WHERE id = ?", id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &models.User{ID: id, CreatedAt: fromUnix(created)}, nil
}

func (s *Store) GetGroup(ctx context.Context, id uint64) (*models.Group, error) {
	var created int64
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM vk_groups WHERE id = ?", id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %d: %w", id, err)
	}
	return &models.Group{ID: id, CreatedAt: fromUnix(created)}, nil
}

func (s *Store) UpsertAlbum(ctx context.Context, album *models.Album) error {
	if err := store.ValidateAlbum(album); err != nil {
		return err
	}
	owner, group := referrerArgs(album.Referrer)
	var privacy interface{}
	if album.Privacy != nil {
		privacy = int(*album.Privacy)
	}

	_, err := s.db.ExecContext(ctx, s.upsertAlbumSQL,
		album.RemoteID,
		owner,
		group,
		album.LocalID,
		album.ThumbID,
		album.ThumbSrc,
		album.Title,
		album.Description,
		toUnix(album.Created),
		nullUnix(album.Updated),
		album.Size,
		privacy,
	)
	if err != nil {
		return s.wrapWriteErr("album", album.RemoteID, err)
	}
	return nil
}

func (s *Store) GetAlbum(ctx context.Context, remoteID string) (*models.Album, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(albumColumns, ", ")+" FROM albums WHERE remote_id = ?", remoteID)
	album, err := scanAlbum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("album %s: %w", remoteID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get album %s: %w", remoteID, err)
	}
	return album, nil
}

func (s *Store) ListAlbums(ctx context.Context, filter store.AlbumFilter) ([]models.Album, error) {
	query := "SELECT " + strings.Join(albumColumns, ", ") + " FROM albums"
	var args []interface{}
	switch {
	case filter.Referrer.IsGroup():
		query += " WHERE group_id = ?"
		args = append(args, filter.Referrer.ID)
	case filter.Referrer.IsOwner():
		query += " WHERE owner_id = ?"
		args = append(args, filter.Referrer.ID)
	}
	query += " ORDER BY created, remote_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer rows.Close()

	var albums []models.Album
	for rows.Next() {
		album, err := scanAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		albums = append(albums, *album)
	}
	return albums, rows.Err()
}

func (s *Store) UpsertPhoto(ctx context.Context, photo *models.Photo) error {
	if err := store.ValidatePhoto(photo); err != nil {
		return err
	}
	owner, group := referrerArgs(photo.Referrer)
	var author interface{}
	if photo.AuthorID != nil {
		author = *photo.AuthorID
	}

	_, err := s.db.ExecContext(ctx, s.upsertPhotoSQL,
		photo.RemoteID,
		owner,
		group,
		photo.LocalID,
		photo.AlbumID,
		author,
		photo.SrcSmall,
		photo.Src,
		photo.SrcBig,
		photo.SrcXBig,
		photo.SrcXXBig,
		nullInt(photo.Width),
		nullInt(photo.Height),
		photo.Likes,
		photo.Comments,
		photo.Tags,
		photo.Text,
		toUnix(photo.Created),
	)
	if err != nil {
		return s.wrapWriteErr("photo", photo.RemoteID, err)
	}
	return nil
}

func (s *Store) GetPhoto(ctx context.Context, remoteID string) (*models.Photo, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(photoColumns, ", ")+" FROM photos WHERE remote_id = ?", remoteID)
	photo, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", remoteID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", remoteID, err)
	}
	return photo, nil
}

func (s *Store) ListPhotos(ctx context.Context, filter store.PhotoFilter) ([]models.Photo, error) {
	query := "SELECT " + strings.Join(photoColumns, ", ") + " FROM photos"
	var args []interface{}
	if filter.AlbumID != "" {
		query += " WHERE album_id = ?"
		args = append(args, filter.AlbumID)
	}
	query += " ORDER BY created, remote_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *photo)
	}
	return photos, rows.Err()
}

func (s *Store) UpdatePhotoCounters(ctx context.Context, remoteID string, likes, comments *int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := photoExists(ctx, tx, remoteID); err != nil {
			return err
		}
		if likes != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE photos SET likes = ? WHERE remote_id = ?", *likes, remoteID); err != nil {
				return fmt.Errorf("update likes of %s: %w", remoteID, err)
			}
		}
		if comments != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE photos SET comments = ? WHERE remote_id = ?", *comments, remoteID); err != nil {
				return fmt.Errorf("update comments of %s: %w", remoteID, err)
			}
		}
		return nil
	})
}

func (s *Store) AddLikes(ctx context.Context, photoID string, userIDs []uint64) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := photoExists(ctx, tx, photoID); err != nil {
			return err
		}

		if len(userIDs) > 0 {
			stmt, err := tx.PrepareContext(ctx, s.addLikeSQL)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, id := range userIDs {
				if _, err := stmt.ExecContext(ctx, photoID, id); err != nil {
					if s.d.isForeignKeyViolation(err) {
						return fmt.Errorf("liker %d of %s: %w", id, photoID, errs.ErrUnresolvedParent)
					}
					return fmt.Errorf("add like %d to %s: %w", id, photoID, err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE photos SET likes = (SELECT COUNT(*) FROM photo_likes WHERE photo_id = ?) WHERE remote_id = ?",
			photoID, photoID); err != nil {
			return fmt.Errorf("recount likes of %s: %w", photoID, err)
		}
		return tx.QueryRowContext(ctx, "SELECT likes FROM photos WHERE remote_id = ?", photoID).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListLikers(ctx context.Context, photoID string) ([]uint64, error) {
	var ids []uint64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := photoExists(ctx, tx, photoID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT user_id FROM photo_likes WHERE photo_id = ? ORDER BY user_id", photoID)
		if err != nil {
			return fmt.Errorf("list likers of %s: %w", photoID, err)
		}
		defer rows.Close()
		for rows.Next() {
			var id uint64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM vk_groups),
		(SELECT COUNT(*) FROM albums),
		(SELECT COUNT(*) FROM photos),
		(SELECT COUNT(*) FROM photo_likes)`).Scan(&st.Users, &st.Groups, &st.Albums, &st.Photos, &st.Likes)
	if err != nil {
		return store.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) wrapWriteErr(kind, id string, err error) error {
	if s.d.isForeignKeyViolation(err) {
		return fmt.Errorf("upsert %s %s: %w: %v", kind, id, errs.ErrUnresolvedParent, err)
	}
	return fmt.Errorf("upsert %s %s: %w", kind, id, err)
}

func photoExists(ctx context.Context, tx *sql.Tx, photoID string) error {
	var found int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM photos WHERE remote_id = ?", photoID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("photo %s: %w", photoID, errs.ErrNotFound)
	}
	return err
}
