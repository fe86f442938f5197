package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store"
	"github.com/warp/loyalty-engine/token"
)

// =============================================================================
// TEST RIG
// =============================================================================

// resolverRig wires a transactor and resolver over one memory store and one
// controllable clock so tests can issue tokens and then move time.
type resolverRig struct {
	now      time.Time
	mem      *store.Memory
	tr       *loyalty.Transactor
	resolver *loyalty.Resolver
}

func newResolverRig(t *testing.T) *resolverRig {
	t.Helper()
	rig := &resolverRig{
		now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		mem: store.NewMemory(),
	}
	codec := token.NewCodec(token.WithClock(func() time.Time { return rig.now }))
	cfg := loyalty.DefaultConfig()
	table := loyalty.DefaultTierTable()
	rig.tr = loyalty.NewTransactor(rig.mem, loyalty.NewCalculator(table, cfg), codec, cfg, nil, nil)
	rig.resolver = loyalty.NewResolver(rig.mem, codec, nil, nil)
	return rig
}

// seedProfile creates a profile with scan identifiers set.
func (r *resolverRig) seedProfile(t *testing.T, userID, cardNumber, phone string) {
	t.Helper()
	p := loyalty.NewProfile(userID, r.now)
	p.CardNumber = cardNumber
	p.Phone = phone
	require.NoError(t, r.mem.Create(context.Background(), p))
}

// =============================================================================
// CHAIN ORDER
// =============================================================================

func TestResolver_StrategyOrder(t *testing.T) {
	rig := newResolverRig(t)

	assert.Equal(t, []string{
		"current_token",
		"issued_codes",
		"qr_payload",
		"ean13_variants",
		"upce_expansion",
		"card_number",
		"phone",
	}, rig.resolver.Strategies())
}

// =============================================================================
// TOKEN STRATEGIES
// =============================================================================

func TestResolver_CurrentQRToken(t *testing.T) {
	rig := newResolverRig(t)
	ctx := context.Background()

	pair, err := rig.tr.IssueTokens(ctx, "user-1")
	require.NoError(t, err)

	res, err := rig.resolver.Resolve(ctx, pair.QRToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "current_token", res.Strategy)
}

func TestResolver_CurrentBarcode(t *testing.T) {
	rig := newResolverRig(t)
	ctx := context.Background()

	pair, err := rig.tr.IssueTokens(ctx, "user-1")
	require.NoError(t, err)

	res, err := rig.resolver.Resolve(ctx, pair.Barcode)
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "current_token", res.Strategy)
}

func TestResolver_RotatedTokenFallsToIssuedCodes(t *testing.T) {
	// GIVEN: A customer whose token was reissued after their app cached the
	//        old one
	// WHEN: Staff scans the superseded (still unexpired) token
	// THEN: The issued-code log resolves it

	rig := newResolverRig(t)
	ctx := context.Background()

	first, err := rig.tr.IssueTokens(ctx, "user-1")
	require.NoError(t, err)

	rig.now = rig.now.Add(1 * time.Minute)
	second, err := rig.tr.IssueTokens(ctx, "user-1")
	require.NoError(t, err)
	require.NotEqual(t, first.QRToken, second.QRToken)

	res, err := rig.resolver.Resolve(ctx, first.QRToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "issued_codes", res.Strategy)
}

func TestResolver_ExpiredTokenDoesNotResolve(t *testing.T) {
	// GIVEN: A token 16 minutes old with a 15-minute TTL
	// THEN: Neither the profile, the log, nor the payload accepts it

	rig := newResolverRig(t)
	ctx := context.Background()

	pair, err := rig.tr.IssueTokens(ctx, "user-1")
	require.NoError(t, err)

	rig.now = rig.now.Add(16 * time.Minute)

	_, err = rig.resolver.Resolve(ctx, pair.QRToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, loyalty.ErrResolutionFailed)
}

func TestResolver_BareQRPayloadVerifiedAgainstStore(t *testing.T) {
	// GIVEN: A structurally valid QR token that was never issued through the
	//        store (no profile record, no log entry)
	// THEN: It resolves via payload decode only if the user exists

	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "", "")

	codec := token.NewCodec(token.WithClock(func() time.Time { return rig.now }))
	tok := codec.IssueQR("user-1")

	res, err := rig.resolver.Resolve(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "qr_payload", res.Strategy)

	// Same shape, nonexistent user: the payload is forgeable, the store
	// check is what rejects it.
	_, err = rig.resolver.Resolve(ctx, codec.IssueQR("ghost"))
	assert.ErrorIs(t, err, loyalty.ErrResolutionFailed)
}

// =============================================================================
// CARD NUMBER STRATEGIES
// =============================================================================

func TestResolver_EAN13VariantMatchesTruncatedCard(t *testing.T) {
	// GIVEN: A card stored as 12 digits, scanned with an extra check digit
	// THEN: The digit-dropped variant matches

	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "400638133393", "")

	res, err := rig.resolver.Resolve(ctx, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "ean13_variants", res.Strategy)
}

func TestResolver_EAN13ExactThirteenDigitCard(t *testing.T) {
	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "4006381333931", "")

	res, err := rig.resolver.Resolve(ctx, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, "ean13_variants", res.Strategy, "as-is variant tried first")
}

func TestResolver_UPCEExpansion(t *testing.T) {
	// GIVEN: A card stored in expanded UPC-A form
	// WHEN: The scanner reports the compressed 8-digit UPC-E
	// THEN: Expansion finds the card

	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "012000003455", "")

	res, err := rig.resolver.Resolve(ctx, "01234505")
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "upce_expansion", res.Strategy)
}

func TestResolver_UPCEExpansionLeadingZeroForm(t *testing.T) {
	// Card stored in the 13-digit EAN spelling of the UPC-A code.
	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "0012000003455", "")

	res, err := rig.resolver.Resolve(ctx, "01234505")
	require.NoError(t, err)
	assert.Equal(t, "upce_expansion", res.Strategy)
}

func TestResolver_PlainCardNumber(t *testing.T) {
	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "CARD-2026-0042", "")

	res, err := rig.resolver.Resolve(ctx, "CARD-2026-0042")
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "card_number", res.Strategy)
}

// =============================================================================
// PHONE STRATEGY
// =============================================================================

func TestResolver_PhoneLocalDigitsMatchPrefixedRecord(t *testing.T) {
	// GIVEN: A phone stored with a country prefix
	// WHEN: Staff types the 10 local digits
	// THEN: The prefixed candidates find it

	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "", "+919876543210")

	res, err := rig.resolver.Resolve(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "phone", res.Strategy)
}

func TestResolver_PhonePrefixedDigitsMatchLocalRecord(t *testing.T) {
	// The reverse: stored bare, scanned with the 91 prefix.
	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "", "9876543210")

	res, err := rig.resolver.Resolve(ctx, "919876543210")
	require.NoError(t, err)
	assert.Equal(t, "phone", res.Strategy)
}

func TestResolver_PhoneLengthGate(t *testing.T) {
	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "", "987654321")

	// 9 digits: below the phone strategy's floor, nothing else matches.
	_, err := rig.resolver.Resolve(ctx, "987654321")
	assert.ErrorIs(t, err, loyalty.ErrResolutionFailed)
}

// =============================================================================
// FAILURE SHAPE
// =============================================================================

func TestResolver_NoMatchReportsAttemptedStrategies(t *testing.T) {
	rig := newResolverRig(t)

	_, err := rig.resolver.Resolve(context.Background(), "garbage-input")
	require.Error(t, err)

	var resErr *loyalty.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "garbage-input", resErr.Code)
	assert.Equal(t, rig.resolver.Strategies(), resErr.Attempted, "every strategy was tried, in order")
	assert.ErrorIs(t, err, loyalty.ErrResolutionFailed)
}

func TestResolver_NeverGuesses(t *testing.T) {
	// A store full of users must not make an unmatchable code resolve.
	rig := newResolverRig(t)
	ctx := context.Background()
	rig.seedProfile(t, "user-1", "CARD-1", "9876543210")
	rig.seedProfile(t, "user-2", "CARD-2", "9876543211")

	_, err := rig.resolver.Resolve(ctx, "CARD-3")
	assert.ErrorIs(t, err, loyalty.ErrResolutionFailed)
}
