package errors

var (
	ErrNotAuthenticated = New(KindNotAuthenticated, "not authenticated")
	ErrNotFound         = New(KindNotFound, "not found")
	ErrNotAuthorized    = New(KindNotAuthorized, "not a participant in this conversation")
	ErrSelfReference    = New(KindSelfReference, "cannot add yourself as a friend")
	ErrDuplicateRequest = New(KindDuplicateRequest, "friend request already exists")
	ErrNotFriends       = New(KindNotFriends, "not friends with this user")
	ErrEmptyContent     = New(KindEmptyContent, "message content is empty")
	ErrTransient        = New(KindTransient, "temporarily unavailable")
	ErrSessionClosed    = New(KindNotAuthenticated, "session closed")

	ErrUserNotFound          = NotFound("user not found")
	ErrFriendRequestNotFound = NotFound("friend request not found")
	ErrConversationNotFound  = NotFound("conversation not found")
	ErrContentTooLong        = InvalidArg("content exceeds maximum length")
	ErrContentNotUTF8        = InvalidArg("content must be valid UTF-8")
)
