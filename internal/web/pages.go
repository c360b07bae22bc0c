package web

import (
	"encoding/csv"
	"errors"
	"html/template"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/audit"
	"qrattend/internal/auth"
	"qrattend/internal/qr"
)

const defaultDurationMinutes = 5

// ---------- Landing & admin ----------

func (h *Handler) Index(c *gin.Context) {
	if auth.IsAdmin(c) {
		h.render(c, http.StatusOK, "generate_qr.html", gin.H{"Form": sessionForm("", defaultDurationMinutes)})
		return
	}
	h.render(c, http.StatusOK, "index.html", nil)
}

func (h *Handler) AdminLogin(c *gin.Context) {
	if auth.IsAdmin(c) {
		c.Redirect(http.StatusFound, "/generate_qr")
		return
	}
	if c.Request.Method != http.MethodPost {
		h.render(c, http.StatusOK, "admin_login.html", nil)
		return
	}

	username := c.PostForm("username")
	acct, err := h.admins.Authenticate(c.Request.Context(), username, c.PostForm("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.fail(c, err)
			return
		}
		addFlash(c, flashDanger, "Invalid admin password. Please try again.")
		h.render(c, http.StatusOK, "admin_login.html", gin.H{"Username": username})
		return
	}

	token, exp, err := auth.IssueAdmin(acct.Username, h.cfg.JWTIssuer, h.cfg.SessionSecret, h.cfg.AdminTokenTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	auth.SetCookie(c, token, exp, h.cfg.CookieSecure)
	h.log.Info("admin logged in", zap.String("username", acct.Username))
	addFlash(c, flashSuccess, "Login successful! You can now generate QR codes.")
	c.Redirect(http.StatusFound, "/generate_qr")
}

func (h *Handler) Logout(c *gin.Context) {
	auth.ClearCookie(c, h.cfg.CookieSecure)
	addFlash(c, flashInfo, "You have been logged out")
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) requireAdminPage(c *gin.Context) {
	if !auth.IsAdmin(c) {
		addFlash(c, flashWarning, "Admin access required to generate QR codes")
		c.Redirect(http.StatusFound, "/admin")
		c.Abort()
		return
	}
	c.Next()
}

// ---------- QR generation ----------

func sessionForm(name string, duration int) gin.H {
	return gin.H{"SessionName": name, "DurationMinutes": duration}
}

func (h *Handler) GenerateQR(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		h.render(c, http.StatusOK, "generate_qr.html", gin.H{"Form": sessionForm("", defaultDurationMinutes)})
		return
	}

	name := c.PostForm("session_name")
	// unparsable input becomes 0 and fails the range check
	duration, _ := strconv.Atoi(strings.TrimSpace(c.PostForm("duration_minutes")))

	sess, err := h.att.CreateOrRenewSession(c.Request.Context(), name, duration)
	if err != nil {
		var verr *attendance.ValidationError
		if errors.As(err, &verr) {
			h.render(c, http.StatusOK, "generate_qr.html", gin.H{
				"Form":   sessionForm(name, duration),
				"Errors": verr.Fields,
			})
			return
		}
		h.fail(c, err)
		return
	}

	base := h.cfg.PublicBaseURL
	if base == "" {
		base = qr.BaseURL(c.Request)
	}
	url := qr.ScanURL(base, sess.Token)
	png, err := qr.PNG(url, h.cfg.QRSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	shareURL := ""
	if h.cdn != nil {
		res, err := h.cdn.UploadPNG(c.Request.Context(), png, "session-"+sess.ID)
		if err != nil {
			h.log.Warn("qr upload failed", zap.String("session", sess.Name), zap.Error(err))
		} else {
			shareURL = res.SecureURL
		}
	}

	remaining := int(sess.Remaining(h.att.Now()).Seconds())
	h.render(c, http.StatusOK, "generate_qr.html", gin.H{
		"Form":             sessionForm(sess.Name, duration),
		"Session":          sess,
		"SessionName":      sess.Name,
		"URL":              url,
		"ImgData":          template.URL(qr.DataURI(png)),
		"DownloadName":     downloadName(sess.Name),
		"Duration":         duration,
		"RemainingSeconds": remaining,
		"ShareURL":         shareURL,
	})
}

var whitespace = regexp.MustCompile(`\s+`)

func downloadName(session string) string {
	return "QR_" + whitespace.ReplaceAllString(session, "_") + ".png"
}

// ---------- Scanning ----------

// gateFlash turns an admission failure into the message and redirect target shown to the student.
func gateFlash(err error, token string) (category, msg, target string, ok bool) {
	switch {
	case errors.Is(err, attendance.ErrInvalidToken):
		return flashDanger, "Invalid session token", "/", true
	case errors.Is(err, attendance.ErrExpired):
		return flashWarning, "This QR code has expired. Please ask for a new one.", "/", true
	case errors.Is(err, attendance.ErrInactive):
		return flashWarning, "This attendance session is no longer active.", "/", true
	case errors.Is(err, attendance.ErrAlreadyMarked):
		return flashWarning, "You have already marked attendance for this session", "/scan/" + token, true
	}
	return "", "", "", false
}

func (h *Handler) ScanForm(c *gin.Context) {
	token := c.Param("token")
	sess, err := h.att.ValidateScan(c.Request.Context(), token)
	if err != nil {
		h.rejectScan(c, err, token)
		return
	}
	h.render(c, http.StatusOK, "scan.html", gin.H{"Session": sess, "Form": attendance.Submission{}})
}

func (h *Handler) Scan(c *gin.Context) {
	token := c.Param("token")
	ip := attendance.EffectiveClientAddr(c.Request.RemoteAddr, c.GetHeader("X-Forwarded-For"))
	sub := attendance.Submission{
		StudentID: c.PostForm("student_id"),
		RegNumber: c.PostForm("reg_number"),
		Name:      c.PostForm("name"),
	}

	sess, err := h.att.ValidateScan(c.Request.Context(), token)
	if err == nil {
		_, err = h.att.RecordAttendance(c.Request.Context(), sess, sub, c.Request.RemoteAddr, c.GetHeader("X-Forwarded-For"))
	}
	h.publishScan(c, token, sess, sub, ip, err)

	var verr *attendance.ValidationError
	switch {
	case err == nil:
		addFlash(c, flashSuccess, "Attendance marked successfully!")
		c.Redirect(http.StatusFound, "/success")
	case errors.As(err, &verr):
		h.render(c, http.StatusOK, "scan.html", gin.H{"Session": sess, "Form": sub, "Errors": verr.Fields})
	default:
		h.rejectScan(c, err, token)
	}
}

func (h *Handler) rejectScan(c *gin.Context, err error, token string) {
	category, msg, target, ok := gateFlash(err, token)
	if !ok {
		h.fail(c, err)
		return
	}
	addFlash(c, category, msg)
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) publishScan(c *gin.Context, token string, sess attendance.Session, sub attendance.Submission, ip string, err error) {
	evt := audit.Event{
		Token:     token,
		StudentID: strings.TrimSpace(sub.StudentID),
		Outcome:   attendance.Outcome(err),
	}
	if sess.ID != "" {
		evt.SessionID = &sess.ID
	}
	if ip != "" {
		evt.IPAddress = &ip
	}
	h.audit.Publish(c.Request.Context(), evt)
}

func (h *Handler) Success(c *gin.Context) {
	h.render(c, http.StatusOK, "success.html", nil)
}

// ---------- Listing ----------

func (h *Handler) ListAttendance(c *gin.Context) {
	data, err := h.att.ListAttendance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	total := 0
	for _, sa := range data {
		total += len(sa.Records)
	}
	h.render(c, http.StatusOK, "attendance_list.html", gin.H{"AttendanceData": data, "Total": total})
}

var csvHeader = []string{"Session", "Student ID", "Registration Number", "Name", "Timestamp", "IP Address"}

// csvCell quotes values a spreadsheet would evaluate as a formula.
func csvCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func (h *Handler) ExportAttendanceCSV(c *gin.Context) {
	data, err := h.att.ListAttendance(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	filename := "attendance_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write(csvHeader)
	for _, sa := range data {
		for _, rec := range sa.Records {
			ip := ""
			if rec.IPAddress != nil {
				ip = *rec.IPAddress
			}
			_ = w.Write([]string{
				csvCell(sa.Session.Name),
				csvCell(rec.StudentID),
				csvCell(rec.RegNumber),
				csvCell(rec.Name),
				rec.Timestamp.UTC().Format("2006-01-02 15:04:05"),
				csvCell(ip),
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.log.Error("csv export", zap.Error(err))
	}
}
