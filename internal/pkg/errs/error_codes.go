/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room, Presence and Content Errors
const (
	// ErrMessageContentTooLong indicates that the message body exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrSenderMuted indicates that the sender is muted and the message was rejected.
	ErrSenderMuted = 2202

	// ErrSenderKicked indicates that the identity has been kicked from the room.
	ErrSenderKicked = 2203

	// ErrNameTaken indicates that a rename or registration collided with another identity.
	ErrNameTaken = 2204

	// ErrSessionNotFound indicates that the connection has no live session in the room.
	ErrSessionNotFound = 2205

	// ErrDuplicateConnection indicates that the connection handle is already registered.
	ErrDuplicateConnection = 2206

	// ErrFileSizeTooLarge indicates that an avatar upload exceeds the size limit.
	ErrFileSizeTooLarge = 2301
)

// 3xxx: Identity, Session, and Security Errors
const (
	// ErrPowChallengeRequired indicates the client must complete a Proof-of-Work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates that the PoW proof provided by the client is invalid or incorrect.
	ErrPowChallengeInvalid = 3002

	// ErrPowChallengeInternal indicates an internal error occurred during the PoW challenge process.
	ErrPowChallengeInternal = 3003

	// ErrSessionKicked indicates that the current connection was replaced by a newer one.
	ErrSessionKicked = 3004

	// ErrUserAlreadyExists indicates that the identifier is already registered.
	ErrUserAlreadyExists = 3005

	// ErrInvalidCredentials indicates a failed identifier/secret check.
	ErrInvalidCredentials = 3006

	// ErrUnauthorized indicates that the request carries no valid identity.
	ErrUnauthorized = 3007

	// ErrForbidden indicates that the identity's role does not permit the action.
	ErrForbidden = 3008

	// ErrUserNotFound indicates that the target identity does not exist.
	ErrUserNotFound = 3009

	// ErrInvalidUsername indicates that an identifier does not match the allowed pattern.
	ErrInvalidUsername = 3010

	// ErrInvalidPassword indicates that a secret is too short or too long.
	ErrInvalidPassword = 3011
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates that the persistence backend failed transiently.
	ErrStoreUnavailable = 5001

	// ErrResponderUnavailable indicates that the reply generator could not produce an answer.
	ErrResponderUnavailable = 5002

	// ErrFileStorageFailed indicates that the object storage backend failed.
	ErrFileStorageFailed = 5003
)
