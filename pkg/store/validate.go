package store

import (
	"fmt"

	errs "vkphotos/pkg/errors"
	"vkphotos/pkg/models"
	"vkphotos/pkg/remoteid"
)

// ValidateAlbum checks that album carries exactly one referrer and that its
// remote id encodes that referrer and its local id.
func ValidateAlbum(album *models.Album) error {
	if album == nil {
		return fmt.Errorf("%w: nil album", errs.ErrInvalidRecord)
	}
	return validateIdentity("album", album.RemoteID, album.Referrer, album.LocalID)
}

// ValidatePhoto checks photo's identity and that it names an album.
func ValidatePhoto(photo *models.Photo) error {
	if photo == nil {
		return fmt.Errorf("%w: nil photo", errs.ErrInvalidRecord)
	}
	if err := validateIdentity("photo", photo.RemoteID, photo.Referrer, photo.LocalID); err != nil {
		return err
	}
	if photo.AlbumID == "" {
		return fmt.Errorf("%w: photo %s has no album", errs.ErrInvalidRecord, photo.RemoteID)
	}
	return nil
}

func validateIdentity(kind, id string, ref models.Referrer, localID uint64) error {
	if ref.IsZero() {
		return fmt.Errorf("%w: %s %q has no owner or group", errs.ErrInvalidRecord, kind, id)
	}
	want, err := remoteid.EncodeReferrer(ref, localID)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidRecord, err)
	}
	if want != id {
		return fmt.Errorf("%w: %s id %q does not match %s/%d", errs.ErrInvalidRecord, kind, id, ref, localID)
	}
	return nil
}
