package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"Choirbook/core/mail"
	"Choirbook/logger"
)

const msgContactSent = "Thank you, your message has been sent."

// ContactHandler GET 显示联系表单，POST 发送邮件给合唱团负责人
func (h *Handler) ContactHandler(w http.ResponseWriter, r *http.Request) {
	data := newPage(r)
	if r.Method == http.MethodGet {
		if r.URL.Query().Has("sent") {
			data.Flash = msgContactSent
		}
		if data.User != nil {
			data.Form["name"] = data.User.Username
			data.Form["email"] = data.User.Email
		}
		h.renderPage(w, r, http.StatusOK, "contact", data)
		return
	}

	var form contactForm
	echo, err := bindForm(r, &form)
	if err != nil {
		h.renderError(w, r, http.StatusBadRequest, "The form could not be read.")
		return
	}
	data.Form = echo

	if verr := h.validateForm(&form); verr != nil {
		data.Errors = *verr
		h.renderPage(w, r, http.StatusBadRequest, "contact", data)
		return
	}

	to := h.cfg.ContactTo()
	if to == "" {
		h.serverError(w, r, "[Contact]", fmt.Errorf("no contact recipient configured"))
		return
	}

	msg := mail.Message{
		To:      []string{to},
		ReplyTo: form.Email,
		Subject: "Contact form: " + form.Name,
		Text:    fmt.Sprintf("From: %s <%s>\n\n%s\n", form.Name, form.Email, form.Message),
	}
	if err := h.mailer.Send(r.Context(), msg); err != nil {
		if errorStatus(err) == http.StatusBadGateway {
			logger.Error("[Contact] 邮件发送失败", logger.String("replyTo", form.Email), logger.ErrorField(err))
			h.renderError(w, r, http.StatusBadGateway, "Your message could not be sent right now. Please try again later.")
			return
		}
		h.serverError(w, r, "[Contact]", err)
		return
	}

	logger.Info("[Contact] 留言已发送", logger.String("replyTo", form.Email))
	http.Redirect(w, r, "/contact?sent=1", http.StatusSeeOther)
}

// UsefulLinksHandler 静态链接页
func (h *Handler) UsefulLinksHandler(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "useful_links", newPage(r))
}

// HealthHandler 存活检查
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
