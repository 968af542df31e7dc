package apperr

// MsgID names a message in the locale files.
type MsgID string

// Messages for failed operations.
const (
	MsgUnknown    MsgID = "ErrUnknown"
	MsgBadRequest MsgID = "ErrBadRequest"
	MsgNotFound   MsgID = "ErrNotFound"
	MsgBusy       MsgID = "ErrBusy"
	MsgNetwork    MsgID = "ErrNetwork"

	// generator
	MsgMalformedOutput        MsgID = "ErrMalformedOutput"
	MsgShortBatch             MsgID = "ErrShortBatch"
	MsgGeneration             MsgID = "ErrGeneration"
	MsgGeneratorCredential    MsgID = "ErrGeneratorCredential"
	MsgGeneratorNotConfigured MsgID = "ErrGeneratorNotConfigured"

	// sign-in and accounts
	MsgNotLoggedIn          MsgID = "ErrNotLoggedIn"
	MsgLoginFailed          MsgID = "ErrLoginFailed"
	MsgSchoolLoginFailed    MsgID = "ErrSchoolLoginFailed"
	MsgSchoolNotConfigured  MsgID = "ErrSchoolNotConfigured"
	MsgInvalidPIN           MsgID = "ErrInvalidPIN"
	MsgDebugDisabled        MsgID = "ErrDebugDisabled"
	MsgRegistrationRejected MsgID = "ErrRegistrationRejected"
	MsgResetRejected        MsgID = "ErrResetRejected"
	MsgBackendNotConfigured MsgID = "ErrBackendNotConfigured"
	MsgVerificationFailed   MsgID = "ErrVerificationFailed"

	// forms
	MsgInvalidInput     MsgID = "ErrInvalidInput"
	MsgMissingField     MsgID = "ErrMissingField"
	MsgInvalidEmail     MsgID = "ErrInvalidEmail"
	MsgEmailMismatch    MsgID = "ErrEmailMismatch"
	MsgPasswordTooShort MsgID = "ErrPasswordTooShort"
	MsgPasswordMismatch MsgID = "ErrPasswordMismatch"

	// exams
	MsgUnsupportedGrade   MsgID = "ErrUnsupportedGrade"
	MsgUnsupportedSection MsgID = "ErrUnsupportedSection"
	MsgInvalidState       MsgID = "ErrInvalidState"
	MsgInvalidView        MsgID = "ErrInvalidView"
	MsgNoSession          MsgID = "ErrNoSession"
	MsgNothingToRetake    MsgID = "ErrNothingToRetake"
	MsgSessionDiscarded   MsgID = "ErrSessionDiscarded"
	MsgNeedsRemake        MsgID = "ErrNeedsRemake"
	MsgRemakeInProgress   MsgID = "ErrRemakeInProgress"
	MsgUnanswered         MsgID = "ErrUnanswered"

	// tickets and caps
	MsgInsufficientTickets MsgID = "ErrInsufficientTickets"
	MsgDailyMockCap        MsgID = "ErrDailyMockCap"
	MsgDailyTargetCap      MsgID = "ErrDailyTargetCap"
	MsgDailyRemakeCap      MsgID = "ErrDailyRemakeCap"
	MsgThemeCap            MsgID = "ErrThemeCap"

	// shop
	MsgUnknownPurchase   MsgID = "ErrUnknownPurchase"
	MsgAlreadySubscribed MsgID = "ErrAlreadySubscribed"
	MsgNotSubscribed     MsgID = "ErrNotSubscribed"
	MsgPaymentFailed     MsgID = "ErrPaymentFailed"
)

// Messages lists every message id an Error may carry.
func Messages() []MsgID {
	return []MsgID{
		MsgUnknown, MsgBadRequest, MsgNotFound, MsgBusy, MsgNetwork,
		MsgMalformedOutput, MsgShortBatch, MsgGeneration, MsgGeneratorCredential, MsgGeneratorNotConfigured,
		MsgNotLoggedIn, MsgLoginFailed, MsgSchoolLoginFailed, MsgSchoolNotConfigured, MsgInvalidPIN,
		MsgDebugDisabled, MsgRegistrationRejected, MsgResetRejected, MsgBackendNotConfigured, MsgVerificationFailed,
		MsgInvalidInput, MsgMissingField, MsgInvalidEmail, MsgEmailMismatch, MsgPasswordTooShort, MsgPasswordMismatch,
		MsgUnsupportedGrade, MsgUnsupportedSection, MsgInvalidState, MsgInvalidView, MsgNoSession,
		MsgNothingToRetake, MsgSessionDiscarded, MsgNeedsRemake, MsgRemakeInProgress, MsgUnanswered,
		MsgInsufficientTickets, MsgDailyMockCap, MsgDailyTargetCap, MsgDailyRemakeCap, MsgThemeCap,
		MsgUnknownPurchase, MsgAlreadySubscribed, MsgNotSubscribed, MsgPaymentFailed,
	}
}
