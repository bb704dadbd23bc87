package blob

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// UpdateState is the firmware update process's current phase. Mirrors
// ipmi_flash::FirmwareBlobHandler::UpdateState.
type UpdateState uint8

const (
	StateNotYetStarted UpdateState = iota
	StateUploadInProgress
	StateVerificationPending
	StateVerificationStarted
	StateVerificationCompleted
	StateUpdatePending
	StateUpdateStarted
	StateUpdateCompleted
)

func (s UpdateState) String() string {
	switch s {
	case StateNotYetStarted:
		return "not-yet-started"
	case StateUploadInProgress:
		return "upload-in-progress"
	case StateVerificationPending:
		return "verification-pending"
	case StateVerificationStarted:
		return "verification-started"
	case StateVerificationCompleted:
		return "verification-completed"
	case StateUpdatePending:
		return "update-pending"
	case StateUpdateStarted:
		return "update-started"
	case StateUpdateCompleted:
		return "update-completed"
	default:
		return "unknown"
	}
}

// Open flags, matching FirmwareFlags::UpdateFlags's low bits (the transport
// bits live in the upper byte, see transport.go's transportMask).
const (
	OpenRead  uint16 = 1 << 0
	OpenWrite uint16 = 1 << 1
)

// Session state-flag bits returned via Stat, analogous to blobs::StateFlags
// in the original's blobs-ipmid dependency (not vendored here; just the bits
// this handler itself sets and clears).
const (
	flagCommitting  uint16 = 1 << 2
	flagCommitted   uint16 = 1 << 3
	flagCommitError uint16 = 1 << 4
)

// Well-known and synthetic blob ids (§4.1).
const (
	hashBlobID        = "/flash/hash"
	activeImageBlobID = "/flash/active/image"
	activeHashBlobID  = "/flash/active/hash"
	verifyBlobID      = "/flash/verify"
	updateBlobID      = "/flash/update"
	cleanupBlobID     = "/flash/cleanup"
)

// ActionPack bundles the three actions triggerable for one firmware kind:
// preparation (on upload start), verification, and update. Mirrors
// ipmi_flash::ActionPack.
type ActionPack struct {
	Preparation  TriggerableAction
	Verification TriggerableAction
	Update       TriggerableAction
}

// BlobMeta is the information returned by Stat, mirroring blobs::BlobMeta.
type BlobMeta struct {
	BlobState uint16
	Size      int
	Metadata  []byte
}

// blobSession is an open handle against one blob path. Mirrors
// ipmi_flash::Session, minus the raw-pointer sharing the design notes flag
// as a smell: here each session struct is looked up by handle through
// Handler.lookup, never aliased as a bare pointer outside it.
type blobSession struct {
	transport    Transport
	image        ImageHandler
	flags        uint16
	activePath   string
}

// Handler is the firmware update blob state machine (Core A). Mirrors
// ipmi_flash::FirmwareBlobHandler.
type Handler struct {
	mu sync.Mutex

	imageHandlers map[string]ImageHandler      // blob id -> its image handler
	actionPacks   map[string]*ActionPack        // firmware kind blob id -> actions
	transports    map[uint16]Transport          // transport bit -> transport

	blobIDs []string // the active listing

	activeImage *blobSession
	activeHash  *blobSession
	verifyImage *blobSession
	updateImage *blobSession

	lookup map[uint16]*blobSession // session handle -> session

	state                UpdateState
	openedFirmwareType   string
	preparationTriggered bool

	lastVerificationStatus ActionStatus
	lastUpdateStatus       ActionStatus
}

// NewHandler builds a Handler from the loaded configuration entries and the
// transport table. Requires at least one firmware-kind entry plus the hash
// blob entry, and at least one transport, mirroring
// FirmwareBlobHandler::CreateFirmwareBlobHandler's validation.
func NewHandler(configs []HandlerConfig, transports map[uint16]Transport) (*Handler, error) {
	if len(configs) < 2 {
		return nil, errMustProvideTwo
	}
	if len(transports) == 0 {
		return nil, errNoTransports
	}

	h := &Handler{
		imageHandlers: make(map[string]ImageHandler),
		actionPacks:   make(map[string]*ActionPack),
		transports:    transports,
		lookup:        make(map[uint16]*blobSession),
		state:         StateNotYetStarted,
	}

	haveHash := false
	for _, c := range configs {
		h.imageHandlers[c.BlobID] = c.Handler
		h.actionPacks[c.BlobID] = c.Actions
		h.blobIDs = append(h.blobIDs, c.BlobID)
		if c.BlobID == hashBlobID {
			haveHash = true
		}
	}
	if !haveHash {
		return nil, errNoHashBlob
	}
	h.blobIDs = append(h.blobIDs, cleanupBlobID)

	return h, nil
}

func (h *Handler) fileOpen() bool {
	return len(h.lookup) > 0
}

func (h *Handler) addBlobID(id string) {
	for _, b := range h.blobIDs {
		if b == id {
			return
		}
	}
	h.blobIDs = append(h.blobIDs, id)
}

func (h *Handler) removeBlobID(id string) {
	out := h.blobIDs[:0]
	for _, b := range h.blobIDs {
		if b != id {
			out = append(out, b)
		}
	}
	h.blobIDs = out
}

func (h *Handler) containsBlobID(id string) bool {
	for _, b := range h.blobIDs {
		if b == id {
			return true
		}
	}
	return false
}

// CanHandleBlob reports whether path is currently in the active listing.
func (h *Handler) CanHandleBlob(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.containsBlobID(path)
}

// GetBlobIDs returns the current blob listing.
func (h *Handler) GetBlobIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.blobIDs))
	copy(out, h.blobIDs)
	return out
}

// getActionPack resolves the ActionPack for whichever firmware kind is
// currently opened this cycle, or nil if none has been opened yet — which
// can happen if the hash blob is opened before the image blob.
func (h *Handler) getActionPack() *ActionPack {
	if h.openedFirmwareType == "" {
		return nil
	}
	return h.actionPacks[h.openedFirmwareType]
}

func (h *Handler) changeState(next UpdateState) {
	h.state = next

	switch next {
	case StateNotYetStarted:
		h.preparationTriggered = false
	case StateUploadInProgress:
		if !h.preparationTriggered {
			if pack := h.getActionPack(); pack != nil {
				pack.Preparation.Trigger()
				h.preparationTriggered = true
			}
		}
	}
}

// Stat returns blob-id-level information: for ordinary blob ids, a fixed
// "all transports available" bitmask and size 0 (kept for host-tool
// backwards compatibility); synthetic paths refuse stat.
func (h *Handler) Stat(path string) (BlobMeta, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch path {
	case verifyBlobID, activeImageBlobID, activeHashBlobID, updateBlobID:
		return BlobMeta{}, false
	}
	return BlobMeta{BlobState: transportMask, Size: 0}, true
}

func (h *Handler) getActionStatus() ActionStatus {
	pack := h.getActionPack()
	switch h.state {
	case StateVerificationPending:
		return ActionUnknown
	case StateVerificationStarted:
		if pack == nil {
			return ActionUnknown
		}
		h.lastVerificationStatus = pack.Verification.Status()
		return h.lastVerificationStatus
	case StateVerificationCompleted:
		return h.lastVerificationStatus
	case StateUpdatePending:
		return ActionUnknown
	case StateUpdateStarted:
		if pack == nil {
			return ActionUnknown
		}
		h.lastUpdateStatus = pack.Update.Status()
		return h.lastUpdateStatus
	case StateUpdateCompleted:
		return h.lastUpdateStatus
	default:
		return ActionUnknown
	}
}

// StatSession returns stat information for an open session handle: the
// staged file's current size, the flags it was opened with, and — for the
// verify/update sessions — the polled trigger status as a single metadata
// byte. A success/failure verdict transitions the state machine onward,
// mirroring FirmwareBlobHandler::stat(session, meta).
func (h *Handler) StatSession(session uint16) (BlobMeta, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.lookup[session]
	if !ok {
		return BlobMeta{}, false
	}

	meta := BlobMeta{}
	if s.image != nil {
		meta.Size = s.image.Size()
	}

	if s.activePath == verifyBlobID || s.activePath == updateBlobID {
		value := h.getActionStatus()
		meta.Metadata = []byte{byte(value)}

		if value == ActionSuccess || value == ActionFailed {
			if s.activePath == verifyBlobID {
				h.changeState(StateVerificationCompleted)
			} else {
				h.changeState(StateUpdateCompleted)
			}

			s.flags &^= flagCommitting
			if value == ActionSuccess {
				s.flags |= flagCommitted
			} else {
				s.flags |= flagCommitError
			}
		}
	}

	meta.BlobState = s.flags
	if s.transport != nil {
		meta.Metadata = append(s.transport.ReadMeta(), meta.Metadata...)
	}
	return meta, true
}

// Open opens a blob for writing. See §4.1 for the full failure enumeration;
// every failure leaves the listing and state unchanged (invariant 2).
// Mirrors FirmwareBlobHandler::open.
func (h *Handler) Open(session uint16, flags uint16, path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.fileOpen() {
		return false
	}

	if path == activeImageBlobID || path == activeHashBlobID {
		return false
	}

	if flags&OpenWrite == 0 {
		return false
	}

	switch h.state {
	case StateVerificationPending:
		if path == verifyBlobID {
			s := &blobSession{flags: flags, activePath: verifyBlobID}
			h.verifyImage = s
			h.lookup[session] = s
			return true
		}
	case StateVerificationStarted, StateVerificationCompleted:
		return false
	case StateUpdatePending:
		if path == updateBlobID {
			s := &blobSession{flags: flags, activePath: updateBlobID}
			h.updateImage = s
			h.lookup[session] = s
			return true
		}
		return false
	case StateUpdateStarted, StateUpdateCompleted:
		return false
	}

	if path != hashBlobID && h.openedFirmwareType != "" && h.openedFirmwareType != path {
		log.WithFields(log.Fields{"opened": h.openedFirmwareType, "requested": path}).
			Warn("blob: alternate firmware type requested mid-cycle")
		return false
	}

	transport, _, err := selectTransport(h.transports, flags)
	if err != nil {
		log.WithError(err).Debug("blob: open rejected")
		return false
	}
	if !transport.Open() {
		return false
	}

	image, ok := h.imageHandlers[path]
	if !ok {
		return false
	}
	if !image.Open(path) {
		return false
	}

	s := &blobSession{transport: transport, image: image, flags: flags, activePath: path}

	var active string
	if path == hashBlobID {
		h.activeHash = s
		active = activeHashBlobID
	} else {
		h.activeImage = s
		active = activeImageBlobID
	}

	// The firmware type is latched only once every check above has passed.
	if path != hashBlobID && h.openedFirmwareType == "" {
		h.openedFirmwareType = path
	}

	h.lookup[session] = s
	h.addBlobID(active)
	h.removeBlobID(verifyBlobID)
	h.changeState(StateUploadInProgress)

	return true
}

// Write forwards payload bytes to the open session's image handler. In-band
// transports hand the bytes straight through; memory-bridge transports copy
// the bytes out of the bridge window first. Mirrors
// FirmwareBlobHandler::write.
func (h *Handler) Write(session uint16, offset uint32, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.lookup[session]
	if !ok {
		return false
	}
	if h.state == StateVerificationStarted {
		return false
	}
	if s.activePath == verifyBlobID || s.activePath == updateBlobID {
		return false
	}

	var bytes []byte
	if s.flags&transportMask == TransportInband {
		bytes = data
	} else {
		length, ok := parseChunkHeader(data)
		if !ok {
			return false
		}
		bytes = s.transport.CopyFrom(length)
	}

	return s.image.Write(offset, bytes)
}

// parseChunkHeader decodes the 4-byte little-endian length header a
// non-in-band write carries instead of raw bytes.
func parseChunkHeader(data []byte) (uint32, bool) {
	if len(data) != 4 {
		return 0, false
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, true
}

// WriteMeta forwards metadata bytes to the open session's transport, for
// negotiating a memory-bridge window. Only valid for non-in-band transports.
// Mirrors FirmwareBlobHandler::writeMeta.
func (h *Handler) WriteMeta(session uint16, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.lookup[session]
	if !ok {
		return false
	}
	if s.flags&transportMask == TransportInband {
		return false
	}
	if s.transport == nil {
		return false
	}
	return s.transport.WriteMeta(data)
}

// Commit is only valid against the verify or update sessions; it fires the
// corresponding trigger and advances the state machine. Repeat commits
// after the trigger has started are no-ops that report success. Mirrors
// FirmwareBlobHandler::commit.
func (h *Handler) Commit(session uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.lookup[session]
	if !ok {
		return false
	}
	if s.activePath != verifyBlobID && s.activePath != updateBlobID {
		return false
	}

	switch h.state {
	case StateVerificationPending:
		s.flags |= flagCommitting
		return h.triggerVerification()
	case StateVerificationStarted:
		return true
	case StateVerificationCompleted:
		return false
	case StateUpdatePending:
		s.flags |= flagCommitting
		return h.triggerUpdate()
	case StateUpdateStarted:
		return true
	default:
		return false
	}
}

func (h *Handler) triggerVerification() bool {
	pack := h.getActionPack()
	if pack == nil {
		return false
	}
	if pack.Verification.Trigger() {
		h.changeState(StateVerificationStarted)
		return true
	}
	return false
}

func (h *Handler) triggerUpdate() bool {
	pack := h.getActionPack()
	if pack == nil {
		return false
	}
	if pack.Update.Trigger() {
		h.changeState(StateUpdateStarted)
		return true
	}
	return false
}

// Close's behavior depends on the state at close time (§4.1). Mirrors
// FirmwareBlobHandler::close.
func (h *Handler) Close(session uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.lookup[session]
	if !ok {
		return false
	}

	switch h.state {
	case StateUploadInProgress:
		h.changeState(StateVerificationPending)
		if h.containsBlobID(activeImageBlobID) {
			h.addBlobID(verifyBlobID)
		}
	case StateVerificationPending:
	case StateVerificationStarted:
		h.abortVerification()
		h.abortProcessLocked()
	case StateVerificationCompleted:
		if h.lastVerificationStatus == ActionSuccess {
			h.changeState(StateUpdatePending)
			h.addBlobID(updateBlobID)
			h.removeBlobID(verifyBlobID)
		} else {
			h.abortProcessLocked()
		}
	case StateUpdatePending:
	case StateUpdateStarted:
		h.abortUpdate()
		h.abortProcessLocked()
	case StateUpdateCompleted:
		if h.lastUpdateStatus == ActionFailed {
			log.Warn("blob: update failed")
		}
		h.abortProcessLocked()
	}

	if s.transport != nil {
		s.transport.Close()
	}
	if s.image != nil {
		s.image.Close()
	}
	delete(h.lookup, session)
	h.clearSessionSlot(s)

	return true
}

func (h *Handler) clearSessionSlot(s *blobSession) {
	if h.activeImage == s {
		h.activeImage = nil
	}
	if h.activeHash == s {
		h.activeHash = nil
	}
	if h.verifyImage == s {
		h.verifyImage = nil
	}
	if h.updateImage == s {
		h.updateImage = nil
	}
}

// DeleteBlob means abort. Mirrors FirmwareBlobHandler::deleteBlob.
func (h *Handler) DeleteBlob(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateVerificationPending, StateUpdatePending:
		h.abortProcessLocked()
		return true
	default:
		return false
	}
}

// Expire aborts the process unconditionally. Mirrors
// FirmwareBlobHandler::expire.
func (h *Handler) Expire(session uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abortProcessLocked()
	return true
}

func (h *Handler) abortVerification() {
	if pack := h.getActionPack(); pack != nil {
		pack.Verification.Abort()
	}
}

func (h *Handler) abortUpdate() {
	if pack := h.getActionPack(); pack != nil {
		pack.Update.Abort()
	}
}

// abortProcessLocked clears every synthetic blob id, closes every open
// transport/image handler, and resets to StateNotYetStarted. Mirrors
// FirmwareBlobHandler::abortProcess. Caller must hold h.mu.
func (h *Handler) abortProcessLocked() {
	h.removeBlobID(verifyBlobID)
	h.removeBlobID(updateBlobID)
	h.removeBlobID(activeImageBlobID)
	h.removeBlobID(activeHashBlobID)

	for _, s := range h.lookup {
		if s.transport != nil {
			s.transport.Close()
		}
		if s.image != nil {
			s.image.Close()
		}
	}
	h.lookup = make(map[uint16]*blobSession)
	h.activeImage = nil
	h.activeHash = nil
	h.verifyImage = nil
	h.updateImage = nil

	h.openedFirmwareType = ""
	h.changeState(StateNotYetStarted)
}

// State returns the handler's current UpdateState, for tests and the admin
// surface.
func (h *Handler) State() UpdateState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
