// Copyright 2026 The Auth9 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/auth9/auth9/internal/apperr"
	"github.com/auth9/auth9/internal/audit"
	"github.com/auth9/auth9/internal/id"
	"github.com/auth9/auth9/internal/identity"
)

// idpAdmin is the slice of idp.Client the provisioning path needs.
type idpAdmin interface {
	AdminCreateUser(ctx context.Context, email, displayName string, enabled bool) (string, error)
	AdminDisableUser(ctx context.Context, idpUserID string) error
}

// Service implements the SCIM operations over the local user store and the
// upstream IdP.
type Service struct {
	users       identity.UserRepository
	groups      GroupRepository
	log         LogRepository
	idp         idpAdmin
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a SCIM service.
func NewService(users identity.UserRepository, groups GroupRepository, log LogRepository, idp idpAdmin, auditLogger audit.Logger) *Service {
	return &Service{
		users:       users,
		groups:      groups,
		log:         log,
		idp:         idp,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// CreateUser provisions a user. A duplicate email already under SCIM
// control conflicts; a duplicate outside SCIM control is linked in place.
// Fresh users are created in the upstream IdP first.
func (s *Service) CreateUser(ctx context.Context, rc RequestContext, res *UserResource) (*UserResource, error) {
	email := res.UserName
	if email == "" && len(res.Emails) > 0 {
		email = res.Emails[0].Value
	}
	if email == "" {
		return nil, s.fail(ctx, rc, "create", "User", res.ExternalID, "",
			apperr.New(apperr.KindBadRequest, "userName is required"))
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.IsScimProvisioned() {
			return nil, s.fail(ctx, rc, "create", "User", res.ExternalID, existing.ID,
				apperr.Newf(apperr.KindConflict, "user %s is already provisioned", email))
		}
		// Pre-existing local user: adopt it instead of duplicating.
		s.link(existing, rc, res)
		if err := s.users.Update(ctx, existing); err != nil {
			return nil, s.fail(ctx, rc, "create", "User", res.ExternalID, existing.ID, err)
		}
		s.logOp(ctx, rc, "create", "User", res.ExternalID, existing.ID, nil, 200)
		return mapUser(existing, rc.BaseURL, s.now()), nil
	case !errors.Is(err, identity.ErrUserNotFound):
		return nil, s.fail(ctx, rc, "create", "User", res.ExternalID, "", err)
	}

	displayName := res.DisplayName
	if displayName == "" && res.Name != nil {
		displayName = res.Name.Formatted
	}
	idpID, err := s.idp.AdminCreateUser(ctx, email, displayName, res.Active)
	if err != nil {
		return nil, s.fail(ctx, rc, "create", "User", res.ExternalID, "",
			apperr.Wrap(apperr.KindUpstream, "failed to create user in IdP", err))
	}

	user := &identity.User{
		ID:            id.NewUUIDv7(),
		ExternalIdPID: idpID,
		Email:         email,
		DisplayName:   displayName,
		CreatedAt:     s.now().UTC(),
		UpdatedAt:     s.now().UTC(),
	}
	s.link(user, rc, res)
	if len(res.Photos) > 0 {
		user.AvatarURL = res.Photos[0].Value
	}
	if !res.Active {
		lockout := identity.ScimDeletedLockout
		user.LockedUntil = &lockout
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.fail(ctx, rc, "create", "User", res.ExternalID, "", err)
	}

	s.logOp(ctx, rc, "create", "User", res.ExternalID, user.ID, nil, 201)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeScimProvisioned,
		TenantID: rc.TenantID,
		Resource: "user",
		Metadata: map[string]any{
			audit.AttrEmail: email,
			"connector_id":  rc.ConnectorID,
			"user_id":       user.ID,
		},
	})
	return mapUser(user, rc.BaseURL, s.now()), nil
}

func (s *Service) link(user *identity.User, rc RequestContext, res *UserResource) {
	connector := rc.ConnectorID
	user.ScimProvisionedBy = &connector
	if res.ExternalID != "" {
		externalID := res.ExternalID
		user.ScimExternalID = &externalID
	}
}

// GetUser returns one user in SCIM form.
func (s *Service) GetUser(ctx context.Context, rc RequestContext, userID string) (*UserResource, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return mapUser(user, rc.BaseURL, s.now()), nil
}

// ReplaceUser is SCIM PUT: it overwrites display name, avatar, active flag
// and external id.
func (s *Service) ReplaceUser(ctx context.Context, rc RequestContext, userID string, res *UserResource) (*UserResource, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, rc, "replace", "User", res.ExternalID, userID, notFoundOr(err))
	}

	user.DisplayName = res.DisplayName
	if user.DisplayName == "" && res.Name != nil {
		user.DisplayName = res.Name.Formatted
	}
	if len(res.Photos) > 0 {
		user.AvatarURL = res.Photos[0].Value
	} else {
		user.AvatarURL = ""
	}
	if res.ExternalID != "" {
		externalID := res.ExternalID
		user.ScimExternalID = &externalID
	}
	s.setActive(user, res.Active)
	user.UpdatedAt = s.now().UTC()

	if err := s.users.Update(ctx, user); err != nil {
		return nil, s.fail(ctx, rc, "replace", "User", res.ExternalID, userID, err)
	}
	s.logOp(ctx, rc, "replace", "User", res.ExternalID, userID, nil, 200)
	return mapUser(user, rc.BaseURL, s.now()), nil
}

// PatchUser applies PatchOp operations in order. add and replace share the
// field mapper; remove supports displayName and photos only.
func (s *Service) PatchUser(ctx context.Context, rc RequestContext, userID string, req *PatchRequest) (*UserResource, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, rc, "patch", "User", "", userID, notFoundOr(err))
	}

	for _, op := range req.Operations {
		switch strings.ToLower(op.Op) {
		case "add", "replace":
			if err := s.applyPatch(user, op.Path, op.Value); err != nil {
				return nil, s.fail(ctx, rc, "patch", "User", "", userID, err)
			}
		case "remove":
			switch strings.ToLower(op.Path) {
			case "displayname":
				user.DisplayName = ""
			case "photos":
				user.AvatarURL = ""
			default:
				return nil, s.fail(ctx, rc, "patch", "User", "", userID,
					apperr.Newf(apperr.KindBadRequest, "cannot remove attribute %q", op.Path))
			}
		default:
			return nil, s.fail(ctx, rc, "patch", "User", "", userID,
				apperr.Newf(apperr.KindBadRequest, "unsupported patch op %q", op.Op))
		}
	}
	user.UpdatedAt = s.now().UTC()

	if err := s.users.Update(ctx, user); err != nil {
		return nil, s.fail(ctx, rc, "patch", "User", "", userID, err)
	}
	s.logOp(ctx, rc, "patch", "User", "", userID, nil, 200)
	return mapUser(user, rc.BaseURL, s.now()), nil
}

// applyPatch maps one add/replace value onto the user. An empty path takes
// a map of attribute names to values.
func (s *Service) applyPatch(user *identity.User, path string, value any) error {
	if path == "" {
		values, ok := value.(map[string]any)
		if !ok {
			return apperr.New(apperr.KindBadRequest, "patch without path requires an object value")
		}
		for attr, v := range values {
			if err := s.applyPatch(user, attr, v); err != nil {
				return err
			}
		}
		return nil
	}

	switch strings.ToLower(path) {
	case "username":
		str, ok := value.(string)
		if !ok || str == "" {
			return apperr.New(apperr.KindBadRequest, "userName must be a non-empty string")
		}
		user.Email = str
	case "displayname", "name.formatted":
		str, _ := value.(string)
		user.DisplayName = str
	case "externalid":
		str, _ := value.(string)
		user.ScimExternalID = &str
	case "active":
		active, ok := value.(bool)
		if !ok {
			// Azure AD sends booleans as strings.
			str, sok := value.(string)
			if !sok {
				return apperr.New(apperr.KindBadRequest, "active must be a boolean")
			}
			active = strings.EqualFold(str, "true")
		}
		s.setActive(user, active)
	case "photos":
		if photos, ok := value.([]any); ok && len(photos) > 0 {
			if photo, ok := photos[0].(map[string]any); ok {
				if v, ok := photo["value"].(string); ok {
					user.AvatarURL = v
				}
			}
		}
	default:
		return apperr.Newf(apperr.KindBadRequest, "unsupported patch path %q", path)
	}
	return nil
}

func (s *Service) setActive(user *identity.User, active bool) {
	if active {
		user.LockedUntil = nil
		return
	}
	lockout := identity.ScimDeletedLockout
	user.LockedUntil = &lockout
}

// DeleteUser deprovisions: a far-future lockout locally, best-effort
// disable upstream. The row survives for audit and re-linking.
func (s *Service) DeleteUser(ctx context.Context, rc RequestContext, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return s.fail(ctx, rc, "delete", "User", "", userID, notFoundOr(err))
	}

	lockout := identity.ScimDeletedLockout
	if err := s.users.UpdateLockout(ctx, userID, &lockout); err != nil {
		return s.fail(ctx, rc, "delete", "User", "", userID, err)
	}
	if user.ExternalIdPID != "" {
		if err := s.idp.AdminDisableUser(ctx, user.ExternalIdPID); err != nil {
			slog.WarnContext(ctx, "failed to disable user in IdP",
				slog.String("user_id", userID), slog.String("error", err.Error()))
		}
	}
	s.logOp(ctx, rc, "delete", "User", "", userID, nil, 204)
	return nil
}

// ListUsers serves filtered, paginated listing. userName and externalId
// equality route to indexed lookups; anything else scans and filters.
func (s *Service) ListUsers(ctx context.Context, rc RequestContext, filter string, startIndex, count int) (*ListResponse, error) {
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 || count > 200 {
		count = 100
	}
	resp := &ListResponse{
		Schemas:    []string{SchemaListResponse},
		StartIndex: startIndex,
		Resources:  []any{},
	}
	now := s.now()

	var matched []*identity.User
	if filter == "" {
		users, total, err := s.users.Search(ctx, "", count, startIndex-1)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			resp.Resources = append(resp.Resources, mapUser(u, rc.BaseURL, now))
		}
		resp.TotalResults = total
		resp.ItemsPerPage = len(users)
		return resp, nil
	}

	expr, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	if email, ok := EqualityLookup(expr, "userName"); ok {
		matched, err = s.lookupOne(ctx, func() (*identity.User, error) {
			return s.users.GetByEmail(ctx, email)
		})
	} else if externalID, ok := EqualityLookup(expr, "externalId"); ok {
		matched, err = s.lookupOne(ctx, func() (*identity.User, error) {
			return s.users.GetByScimExternalID(ctx, rc.ConnectorID, externalID)
		})
	} else {
		matched, err = s.scanMatching(ctx, expr, now)
	}
	if err != nil {
		return nil, err
	}

	resp.TotalResults = len(matched)
	low := startIndex - 1
	if low > len(matched) {
		low = len(matched)
	}
	high := low + count
	if high > len(matched) {
		high = len(matched)
	}
	for _, u := range matched[low:high] {
		resp.Resources = append(resp.Resources, mapUser(u, rc.BaseURL, now))
	}
	resp.ItemsPerPage = high - low
	return resp, nil
}

func (s *Service) lookupOne(ctx context.Context, get func() (*identity.User, error)) ([]*identity.User, error) {
	user, err := get()
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*identity.User{user}, nil
}

// scanMatching pages through the store applying the filter in memory.
func (s *Service) scanMatching(ctx context.Context, expr Expr, now time.Time) ([]*identity.User, error) {
	const pageSize = 200
	var matched []*identity.User
	for offset := 0; ; offset += pageSize {
		users, total, err := s.users.Search(ctx, "", pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if expr.Matches(u, now) {
				matched = append(matched, u)
			}
		}
		if offset+pageSize >= total || len(users) == 0 {
			return matched, nil
		}
	}
}

// CreateGroup stores a group-to-role mapping with a placeholder role; the
// operator binds the real role afterwards.
func (s *Service) CreateGroup(ctx context.Context, rc RequestContext, res *GroupResource) (*GroupResource, error) {
	mapping := &GroupMapping{
		ID:          id.NewUUIDv7(),
		TenantID:    rc.TenantID,
		ConnectorID: rc.ConnectorID,
		ScimGroupID: res.ExternalID,
		DisplayName: res.DisplayName,
		RoleID:      PlaceholderRoleID,
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if mapping.ScimGroupID == "" {
		mapping.ScimGroupID = mapping.ID
	}
	if err := s.groups.Create(ctx, mapping); err != nil {
		return nil, s.fail(ctx, rc, "create", "Group", res.ExternalID, "", err)
	}
	s.logOp(ctx, rc, "create", "Group", mapping.ScimGroupID, mapping.ID, nil, 201)
	return s.mapGroup(mapping, rc.BaseURL), nil
}

// GetGroup returns one mapping in SCIM form.
func (s *Service) GetGroup(ctx context.Context, rc RequestContext, groupID string) (*GroupResource, error) {
	mapping, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return s.mapGroup(mapping, rc.BaseURL), nil
}

// PatchGroup records the operations but does not mutate membership;
// membership derives from the role projection, not from SCIM pushes.
func (s *Service) PatchGroup(ctx context.Context, rc RequestContext, groupID string, req *PatchRequest) (*GroupResource, error) {
	mapping, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, s.fail(ctx, rc, "patch", "Group", "", groupID, notFoundOr(err))
	}
	for _, op := range req.Operations {
		if strings.EqualFold(op.Path, "displayName") && strings.EqualFold(op.Op, "replace") {
			if name, ok := op.Value.(string); ok {
				mapping.DisplayName = name
			}
		}
		slog.InfoContext(ctx, "scim group patch recorded",
			slog.String("group_id", groupID),
			slog.String("op", op.Op), slog.String("path", op.Path))
	}
	mapping.UpdatedAt = s.now().UTC()
	if err := s.groups.Update(ctx, mapping); err != nil {
		return nil, s.fail(ctx, rc, "patch", "Group", "", groupID, err)
	}
	s.logOp(ctx, rc, "patch", "Group", mapping.ScimGroupID, groupID, nil, 200)
	return s.mapGroup(mapping, rc.BaseURL), nil
}

// DeleteGroup removes a mapping.
func (s *Service) DeleteGroup(ctx context.Context, rc RequestContext, groupID string) error {
	if err := s.groups.Delete(ctx, groupID); err != nil {
		return s.fail(ctx, rc, "delete", "Group", "", groupID, notFoundOr(err))
	}
	s.logOp(ctx, rc, "delete", "Group", "", groupID, nil, 204)
	return nil
}

// ListGroups lists the connector's mappings.
func (s *Service) ListGroups(ctx context.Context, rc RequestContext) (*ListResponse, error) {
	mappings, err := s.groups.ListByConnector(ctx, rc.TenantID, rc.ConnectorID)
	if err != nil {
		return nil, err
	}
	resp := &ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: len(mappings),
		StartIndex:   1,
		ItemsPerPage: len(mappings),
		Resources:    []any{},
	}
	for _, m := range mappings {
		resp.Resources = append(resp.Resources, s.mapGroup(m, rc.BaseURL))
	}
	return resp, nil
}

func (s *Service) mapGroup(m *GroupMapping, baseURL string) *GroupResource {
	res := &GroupResource{
		Schemas:     []string{SchemaGroup},
		ID:          m.ID,
		ExternalID:  m.ScimGroupID,
		DisplayName: m.DisplayName,
		Meta: Meta{
			ResourceType: "Group",
			Created:      m.CreatedAt,
			LastModified: m.UpdatedAt,
		},
	}
	if baseURL != "" {
		res.Meta.Location = baseURL + "/Groups/" + m.ID
	}
	return res
}

// Bulk dispatches each operation to the matching single-resource handler.
// failOnErrors stops processing after the Nth error.
func (s *Service) Bulk(ctx context.Context, rc RequestContext, req *BulkRequest) (*BulkResponse, error) {
	resp := &BulkResponse{Schemas: []string{SchemaBulkResponse}}
	errCount := 0
	for _, op := range req.Operations {
		result := s.bulkOne(ctx, rc, op)
		resp.Operations = append(resp.Operations, result)
		if result.Detail != "" {
			errCount++
			if req.FailOnErrors > 0 && errCount >= req.FailOnErrors {
				resp.Operations = append(resp.Operations, BulkResult{
					Method: op.Method,
					Status: "400",
					Detail: fmt.Sprintf("stopped after %d errors", errCount),
				})
				break
			}
		}
	}
	return resp, nil
}

func (s *Service) bulkOne(ctx context.Context, rc RequestContext, op BulkOperation) BulkResult {
	result := BulkResult{Method: strings.ToUpper(op.Method), BulkID: op.BulkID}
	fail := func(err error) BulkResult {
		result.Status = strconv.Itoa(apperr.HTTPStatus(err))
		result.Detail = apperr.Message(err)
		return result
	}

	path := strings.TrimPrefix(op.Path, "/")
	parts := strings.SplitN(path, "/", 2)
	resource := parts[0]
	resourceID := ""
	if len(parts) == 2 {
		resourceID = parts[1]
	}
	if resource != "Users" && resource != "Groups" {
		return fail(apperr.Newf(apperr.KindBadRequest, "unsupported bulk path %q", op.Path))
	}

	switch result.Method {
	case "POST":
		if resource == "Users" {
			var res UserResource
			if err := decodeInto(op.Data, &res); err != nil {
				return fail(err)
			}
			created, err := s.CreateUser(ctx, rc, &res)
			if err != nil {
				return fail(err)
			}
			result.Status = "201"
			result.Location = created.Meta.Location
		} else {
			var res GroupResource
			if err := decodeInto(op.Data, &res); err != nil {
				return fail(err)
			}
			created, err := s.CreateGroup(ctx, rc, &res)
			if err != nil {
				return fail(err)
			}
			result.Status = "201"
			result.Location = created.Meta.Location
		}
	case "PUT":
		if resource != "Users" || resourceID == "" {
			return fail(apperr.New(apperr.KindBadRequest, "PUT requires /Users/{id}"))
		}
		var res UserResource
		if err := decodeInto(op.Data, &res); err != nil {
			return fail(err)
		}
		if _, err := s.ReplaceUser(ctx, rc, resourceID, &res); err != nil {
			return fail(err)
		}
		result.Status = "200"
	case "PATCH":
		if resourceID == "" {
			return fail(apperr.New(apperr.KindBadRequest, "PATCH requires a resource id"))
		}
		var patch PatchRequest
		if err := decodeInto(op.Data, &patch); err != nil {
			return fail(err)
		}
		var err error
		if resource == "Users" {
			_, err = s.PatchUser(ctx, rc, resourceID, &patch)
		} else {
			_, err = s.PatchGroup(ctx, rc, resourceID, &patch)
		}
		if err != nil {
			return fail(err)
		}
		result.Status = "200"
	case "DELETE":
		if resourceID == "" {
			return fail(apperr.New(apperr.KindBadRequest, "DELETE requires a resource id"))
		}
		var err error
		if resource == "Users" {
			err = s.DeleteUser(ctx, rc, resourceID)
		} else {
			err = s.DeleteGroup(ctx, rc, resourceID)
		}
		if err != nil {
			return fail(err)
		}
		result.Status = "204"
	default:
		return fail(apperr.Newf(apperr.KindBadRequest, "unsupported bulk method %q", op.Method))
	}
	return result
}

func decodeInto(data any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "invalid bulk data", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "invalid bulk data", err)
	}
	return nil
}

// ListLog returns provisioning-log entries for the connector.
func (s *Service) ListLog(ctx context.Context, rc RequestContext, limit, offset int) ([]*LogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.log.ListByConnector(ctx, rc.TenantID, rc.ConnectorID, limit, offset)
}

// PurgeLog deletes log entries older than the retention cutoff.
func (s *Service) PurgeLog(ctx context.Context, retention time.Duration) (int64, error) {
	return s.log.DeleteOlderThan(ctx, s.now().UTC().Add(-retention))
}

// fail logs the failed operation and passes the error through.
func (s *Service) fail(ctx context.Context, rc RequestContext, operation, resourceType, scimID, localID string, err error) error {
	s.logOp(ctx, rc, operation, resourceType, scimID, localID, err, apperr.HTTPStatus(err))
	return err
}

func (s *Service) logOp(ctx context.Context, rc RequestContext, operation, resourceType, scimID, localID string, opErr error, status int) {
	entry := &LogEntry{
		ID:              id.NewUUIDv7(),
		TenantID:        rc.TenantID,
		ConnectorID:     rc.ConnectorID,
		Operation:       operation,
		ResourceType:    resourceType,
		ScimResourceID:  scimID,
		LocalResourceID: localID,
		Status:          LogSuccess,
		ResponseStatus:  status,
		CreatedAt:       s.now().UTC(),
	}
	if opErr != nil {
		entry.Status = LogError
		entry.ErrorDetail = opErr.Error()
	}
	if err := s.log.Create(ctx, entry); err != nil {
		slog.WarnContext(ctx, "failed to write provisioning log",
			slog.String("operation", operation), slog.String("error", err.Error()))
	}
}

func notFoundOr(err error) error {
	if errors.Is(err, identity.ErrUserNotFound) || errors.Is(err, ErrGroupNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "resource not found", err)
	}
	return err
}
