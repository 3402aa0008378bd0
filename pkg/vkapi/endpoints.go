package vkapi

import errs "vkphotos/pkg/errors"

// Remote methods used by the synchronizer.
const (
	MethodAlbumsGet    = "photos.getAlbums"
	MethodPhotosGet    = "photos.get"
	MethodLikesGetList = "likes.getList"
)

// API error codes with special handling.
const (
	CodeUnknown           = 1
	CodeAuthFailed        = 5
	CodeTooManyRequests   = 6
	CodePermissionDenied  = 7
	CodeFloodControl      = 9
	CodeInternalError     = 10
	CodeAccessDenied      = 15
	CodeUserDeleted       = 18
	CodePrivateProfile    = 30
	CodeInvalidParameter  = 100
	CodeInvalidUserID     = 113
	CodeAlbumAccessDenied = 200
)

// ClassifyErrorCode maps an API error code onto an error type. Codes 6, 9
// and 10 are transient; everything else is permanent.
func ClassifyErrorCode(code int) errs.ErrorType {
	switch code {
	case CodeTooManyRequests, CodeFloodControl:
		return errs.ErrorTypeRateLimit
	case CodeInternalError, CodeUnknown:
		return errs.ErrorTypeServerError
	case CodeAuthFailed, CodePermissionDenied, CodeAccessDenied, CodePrivateProfile, CodeAlbumAccessDenied:
		return errs.ErrorTypeAuth
	case CodeUserDeleted, CodeInvalidUserID:
		return errs.ErrorTypeNotFound
	default:
		return errs.ErrorTypeAPI
	}
}
