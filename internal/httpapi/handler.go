package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ripple/internal/auth/session"
	"ripple/internal/chat"
	"ripple/internal/identity"
)

// Deliverer pushes a created message to the receiver's live channel.
// *push.Registry satisfies it; NoopDeliverer keeps the handler usable
// without one.
type Deliverer interface {
	Deliver(receiverID string, msg chat.Message)
}

// NoopDeliverer discards deliveries.
type NoopDeliverer struct{}

func (NoopDeliverer) Deliver(string, chat.Message) {}

// Handler wires HTTP endpoints to identity/session/chat services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	sessions *session.Service
	messages chat.Store
	pages    *chat.Paginator

	deliver  Deliverer
	uploader ImageUploader

	onMessageSent func()

	loginLimiter *loginThrottle

	dummyHash string
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithDeliverer wires the live delivery channel.
func WithDeliverer(d Deliverer) HandlerOption {
	return func(h *Handler) {
		if h == nil || d == nil {
			return
		}
		h.deliver = d
	}
}

// WithImageUploader overrides the default passthrough uploader.
func WithImageUploader(u ImageUploader) HandlerOption {
	return func(h *Handler) {
		if h == nil || u == nil {
			return
		}
		h.uploader = u
	}
}

// WithOnMessageSent registers a hook invoked after each stored message.
func WithOnMessageSent(fn func()) HandlerOption {
	return func(h *Handler) {
		if h == nil || fn == nil {
			return
		}
		h.onMessageSent = fn
	}
}

// NewHandler constructs the API handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, messages chat.Store, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil {
		return nil, errors.New("httpapi: nil user store")
	}
	if sessions == nil {
		return nil, errors.New("httpapi: nil session service")
	}
	if messages == nil {
		return nil, errors.New("httpapi: nil message store")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		messages: messages,
		pages:    chat.NewPaginator(messages),
		deliver:  NoopDeliverer{},
		uploader: PassthroughImageUploader{},

		loginLimiter: newLoginThrottle(cfg.LoginIPMax, cfg.LoginIPWindow),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := identity.HashPassword("dummy-password-for-timing-only", identity.DefaultArgon2idParams()); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires API routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/signup", h.handleSignup)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("GET /auth/check", h.handleCheck)
	mux.HandleFunc("PUT /auth/update-profile", h.handleUpdateProfile)

	mux.HandleFunc("GET /messages/users", h.handleListUsers)
	mux.HandleFunc("GET /messages/latest/{id}", h.handleLatestMessages)
	mux.HandleFunc("GET /messages/{id}", h.handleGetMessages)
	mux.HandleFunc("POST /messages/send/{id}", h.handleSendMessage)
}

// ---- auth handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.SignupEnabled {
		writeError(w, http.StatusForbidden, "signup_disabled", "registration is disabled")
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := identity.NormalizeEmail(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if email == "" || fullName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email, full_name and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	user, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Email:    req.Email,
		FullName: fullName,
		Password: req.Password,
		Now:      now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.signup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, err := h.issueSession(r, now, user.ID, req.RememberMe)
	if err != nil {
		h.log.Error("auth.signup.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.signup.ok", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := identity.NormalizeEmail(req.Email)
	password := strings.TrimSpace(req.Password)
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	if limited, retryAfter := h.loginLimiter.blocked(ip, now); limited {
		h.log.Warn("auth.login.throttled", "remote", r.RemoteAddr)
		writeRateLimited(w, retryAfter)
		return
	}

	userAuth, err := h.users.GetUserAuthByEmail(ctx, email)
	if err != nil {
		// Timing resistance: perform a dummy verify when user is missing.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(password, h.dummyHash)
		}
		h.loginLimiter.recordFailure(ip, now)
		h.log.Info("auth.login.fail", "reason", "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := identity.VerifyPassword(password, userAuth.PasswordHash)
	if err != nil || !okPw {
		h.loginLimiter.recordFailure(ip, now)
		h.log.Info("auth.login.fail", "reason", "bad_password", "user_id", userAuth.User.ID)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	issued, err := h.issueSession(r, now, userAuth.User.ID, req.RememberMe)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.login.ok", "user_id", userAuth.User.ID, "session_id", issued.SessionID)
	writeJSON(w, http.StatusOK, authResponse{
		User:    toUserResponse(userAuth.User),
		Session: toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	dev := session.DeviceContext{
		RememberMe: req.RememberMe,
		UserAgent:  strings.TrimSpace(r.UserAgent()),
		IP:         clientIP(r, h.cfg.TrustProxy),
	}

	issued, err := h.sessions.RotateRefresh(ctx, now, refreshToken, dev)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.log.Warn("auth.refresh.reuse_detected", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrSessionExpired),
			errors.Is(err, session.ErrSessionRevoked),
			errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.RevokeSession(ctx, now, claims.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.logout.ok", "user_id", claims.UserID, "session_id", claims.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.RevokeAll(ctx, now, claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.logout_all.ok", "user_id", claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	u, err := h.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.check.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{User: toUserResponse(u)})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	fullName := trimPtr(req.FullName)
	avatar := trimPtr(req.Avatar)
	if fullName == nil && avatar == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "nothing to update")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	var avatarURL *string
	if avatar != nil {
		if int64(len(*avatar)) > h.cfg.MaxImageBytes {
			writeError(w, http.StatusBadRequest, "image_too_large", "image exceeds size limit")
			return
		}
		url, err := h.uploader.Upload(ctx, *avatar)
		if err != nil {
			h.log.Error("auth.update_profile.upload.fail", "err", err)
			writeError(w, http.StatusBadGateway, "upload_failed", "image upload failed")
			return
		}
		avatarURL = &url
	}

	u, err := h.users.UpdateProfile(ctx, identity.UpdateProfileInput{
		UserID:    claims.UserID,
		FullName:  fullName,
		AvatarURL: avatarURL,
		Now:       now,
	})
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.update_profile.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{User: toUserResponse(u)})
}

// ---- message handlers ----

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	users, err := h.users.ListUsersExcluding(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("messages.users.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: out})
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	partnerID := strings.TrimSpace(r.PathValue("id"))
	if partnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing partner id")
		return
	}

	page := queryInt64(r, "page", 1)
	limit := queryInt64(r, "limit", chat.DefaultPageLimit)

	key := chat.NewConversationKey(claims.UserID, partnerID)

	// A nonexistent partner yields zero messages, not an error.
	result, err := h.pages.FetchPage(r.Context(), key, page, limit)
	if err != nil {
		h.log.Error("messages.fetch.fail", "err", err, "partner_id", partnerID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLatestMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	partnerID := strings.TrimSpace(r.PathValue("id"))
	if partnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing partner id")
		return
	}

	limit := queryInt64(r, "limit", chat.DefaultLatestLimit)
	key := chat.NewConversationKey(claims.UserID, partnerID)

	msgs, err := h.pages.Latest(r.Context(), key, limit)
	if err != nil {
		h.log.Error("messages.latest.fail", "err", err, "partner_id", partnerID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Messages []chat.Message `json:"messages"`
	}{Messages: msgs})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	receiverID := strings.TrimSpace(r.PathValue("id"))
	if receiverID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing receiver id")
		return
	}
	if receiverID == claims.UserID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot message yourself")
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	text := strings.TrimSpace(req.Text)
	image := strings.TrimSpace(req.Image)
	if text == "" && image == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text or image is required")
		return
	}
	if len([]rune(text)) > h.cfg.MaxMessageChars {
		writeError(w, http.StatusBadRequest, "message_too_long", "message exceeds length limit")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	if _, err := h.users.GetUserByID(ctx, receiverID); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "receiver not found")
			return
		}
		h.log.Error("messages.send.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	imageURL := ""
	if image != "" {
		if int64(len(image)) > h.cfg.MaxImageBytes {
			writeError(w, http.StatusBadRequest, "image_too_large", "image exceeds size limit")
			return
		}
		url, err := h.uploader.Upload(ctx, image)
		if err != nil {
			h.log.Error("messages.send.upload.fail", "err", err)
			writeError(w, http.StatusBadGateway, "upload_failed", "image upload failed")
			return
		}
		imageURL = url
	}

	msg, err := h.messages.Insert(ctx, chat.InsertInput{
		SenderID:   claims.UserID,
		ReceiverID: receiverID,
		Text:       text,
		ImageURL:   imageURL,
		Now:        now,
	})
	if err != nil {
		h.log.Error("messages.send.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if h.onMessageSent != nil {
		h.onMessageSent()
	}

	// Push delivery only to the receiver; the sender already has the
	// message from this response.
	h.deliver.Deliver(receiverID, msg)

	h.log.Info("messages.send.ok", "sender_id", claims.UserID, "receiver_id", receiverID, "message_id", msg.ID)
	writeJSON(w, http.StatusCreated, msg)
}

// ---- helpers ----

func (h *Handler) issueSession(r *http.Request, now time.Time, userID string, rememberMe bool) (session.Issued, error) {
	dev := session.DeviceContext{
		RememberMe: rememberMe,
		UserAgent:  strings.TrimSpace(r.UserAgent()),
		IP:         clientIP(r, h.cfg.TrustProxy),
	}
	return h.sessions.IssueSession(r.Context(), now, userID, dev)
}

// requireAuth validates the bearer token and surfaces the failure mode
// distinctly so clients can decide whether a refresh is worth trying.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), token, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionExpired):
			writeError(w, http.StatusUnauthorized, "token_expired", "session expired")
		case errors.Is(err, session.ErrSessionRevoked):
			writeError(w, http.StatusUnauthorized, "session_revoked", "session revoked")
		default:
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		}
		return session.AccessClaims{}, false
	}
	return claims, true
}
