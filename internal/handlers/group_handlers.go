package handlers

import (
	"net/http"
	"strconv"

	"samvad-chat/internal/chat"
	"samvad-chat/internal/models"
	"samvad-chat/internal/services"
	"samvad-chat/pkg/logger"
)

type GroupHandlers struct {
	groupService *services.GroupService
	history      *chat.History
}

func NewGroupHandlers(groupService *services.GroupService, history *chat.History) *GroupHandlers {
	return &GroupHandlers{
		groupService: groupService,
		history:      history,
	}
}

func (h *GroupHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var req models.CreateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	group, err := h.groupService.CreateGroup(r.Context(), &req, user.ID)
	if err != nil {
		writeServiceError(w, "Create group", err)
		return
	}

	logger.Info("User %d created group %d (%s)", user.ID, group.ID, group.Name)
	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	groups, err := h.groupService.ListUserGroups(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, "List groups", err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	groupID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid group ID")
		return
	}

	if err := h.groupService.DeleteGroup(r.Context(), groupID, user.ID); err != nil {
		writeServiceError(w, "Delete group", err)
		return
	}

	logger.Info("User %d deleted group %d", user.ID, groupID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *GroupHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	groupID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid group ID")
		return
	}

	var req models.AddMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	added, err := h.groupService.AddMember(r.Context(), groupID, user.ID, req.Username)
	if err != nil {
		writeServiceError(w, "Add member", err)
		return
	}

	writeJSON(w, http.StatusOK, added)
}

func (h *GroupHandlers) GetMembers(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	groupID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid group ID")
		return
	}

	members, err := h.groupService.GetMembers(r.Context(), groupID, user.ID)
	if err != nil {
		writeServiceError(w, "Get members", err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}

// GetHistory serves GET /api/messages/{groupId}?limit=N to group members.
func (h *GroupHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	groupID, ok := pathID(r, "groupId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid group ID")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if err := h.groupService.RequireMember(r.Context(), groupID, user.ID); err != nil {
		writeServiceError(w, "History", err)
		return
	}

	messages, err := h.history.ListRecent(r.Context(), groupID, limit)
	if err != nil {
		writeServiceError(w, "History", err)
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{Messages: messages})
}
