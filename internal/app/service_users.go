package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"actionitems/api/internal/authpw"
	"actionitems/api/internal/mention"
	"actionitems/api/internal/notify"
	"actionitems/api/internal/rbac"
	"actionitems/api/internal/record"
	"actionitems/api/internal/tablestore"
	"actionitems/api/internal/util"
)

// Users lists the authorized user directory without password hashes.
func (s *Service) Users(ctx context.Context) ([]record.Record, error) {
	data, err := s.loadTable(ctx, tablestore.TableUsers)
	if err != nil {
		return nil, err
	}
	users := make([]record.Record, 0, len(data.Rows))
	for _, row := range data.Rows {
		u := record.Plain.Decode(data.Headers, row)
		delete(u, "passwordHash")
		u["role"] = rbac.Normalize(u.String("role"))
		users = append(users, u)
	}
	return users, nil
}

// GetUserByEmail implements authpw.Directory.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (authpw.User, error) {
	data, err := s.loadTable(ctx, tablestore.TableUsers)
	if err != nil {
		return authpw.User{}, err
	}
	for _, row := range data.Rows {
		u := record.Plain.Decode(data.Headers, row)
		if mention.Normalize(u.String("email")) == mention.Normalize(email) {
			return authpw.User{
				Email:        u.String("email"),
				Name:         u.String("name"),
				Role:         rbac.Normalize(u.String("role")),
				WebhookURL:   u.String("webhookUrl"),
				PasswordHash: u.String("passwordHash"),
			}, nil
		}
	}
	return authpw.User{}, fmt.Errorf("user %s not found", email)
}

// CreateUser implements authpw.Directory.
func (s *Service) CreateUser(ctx context.Context, user authpw.User) error {
	headers := tablestore.DefaultHeaders[tablestore.TableUsers]
	if data, err := s.tables.ListRows(ctx, tablestore.TableUsers); err == nil {
		headers = data.Headers
	}
	row := record.Plain.Encode(headers, record.Record{
		"email":        mention.Normalize(user.Email),
		"name":         user.Name,
		"role":         rbac.Normalize(user.Role),
		"webhookUrl":   user.WebhookURL,
		"passwordHash": user.PasswordHash,
	})
	return s.tables.AppendRow(ctx, tablestore.TableUsers, row)
}

// UpdateUserPassword implements authpw.Directory.
func (s *Service) UpdateUserPassword(ctx context.Context, email, passwordHash string) error {
	data, err := s.tables.ListRows(ctx, tablestore.TableUsers)
	if err != nil {
		return err
	}
	rowIndex, row := findRow(data, "email", mention.Normalize(email))
	if rowIndex == 0 {
		return fmt.Errorf("user %s not found", email)
	}
	u := record.Plain.Decode(data.Headers, row)
	u["passwordHash"] = passwordHash
	return s.tables.UpdateRow(ctx, tablestore.TableUsers, rowIndex, record.Plain.Encode(data.Headers, u))
}

// LookupRecipient implements notify.Directory.
func (s *Service) LookupRecipient(ctx context.Context, emailAddr string) (notify.Recipient, bool) {
	user, err := s.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		return notify.Recipient{}, false
	}
	return notify.Recipient{
		Email:      user.Email,
		Name:       user.Name,
		WebhookURL: user.WebhookURL,
	}, true
}

// LookupGroupSpaces implements notify.Directory: the chat spaces of the
// groups a user belongs to.
func (s *Service) LookupGroupSpaces(ctx context.Context, emailAddr string) []notify.Recipient {
	memberships, err := s.loadTable(ctx, tablestore.TableMemberships)
	if err != nil {
		s.logger.Printf("group spaces for %s: %v", emailAddr, err)
		return nil
	}
	normalized := mention.Normalize(emailAddr)
	groupNames := make(map[string]bool)
	for _, row := range memberships.Rows {
		m := record.Plain.Decode(memberships.Headers, row)
		if mention.Normalize(m.String("userEmail")) == normalized {
			groupNames[m.String("groupName")] = true
		}
	}
	if len(groupNames) == 0 {
		return nil
	}

	groups, err := s.loadTable(ctx, tablestore.TableGroups)
	if err != nil {
		s.logger.Printf("group spaces for %s: %v", emailAddr, err)
		return nil
	}
	var spaces []notify.Recipient
	for _, row := range groups.Rows {
		g := record.Plain.Decode(groups.Headers, row)
		if groupNames[g.String("groupName")] && g.String("chatSpaceWebhook") != "" {
			spaces = append(spaces, notify.Recipient{
				Email:      g.String("groupName"),
				WebhookURL: g.String("chatSpaceWebhook"),
			})
		}
	}
	return spaces
}

// UpsertUser creates or updates a directory entry. Admin only, enforced
// at the HTTP layer.
func (s *Service) UpsertUser(ctx context.Context, input record.Record) (record.Record, error) {
	emailAddr := mention.Normalize(input.String("email"))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required", nil)
	}

	data, err := s.tables.ListRows(ctx, tablestore.TableUsers)
	if err != nil {
		return nil, err
	}

	rowIndex, row := findRow(data, "email", emailAddr)
	entry := record.Record{"email": emailAddr}
	if rowIndex > 0 {
		entry = record.Plain.Decode(data.Headers, row)
	}
	if v, ok := input["name"]; ok {
		entry["name"] = v
	}
	if v, ok := input["role"]; ok {
		entry["role"] = rbac.Normalize(record.Text(v))
	}
	if v, ok := input["webhookUrl"]; ok {
		entry["webhookUrl"] = v
	}

	encoded := record.Plain.Encode(data.Headers, entry)
	if rowIndex > 0 {
		err = s.tables.UpdateRow(ctx, tablestore.TableUsers, rowIndex, encoded)
	} else {
		err = s.tables.AppendRow(ctx, tablestore.TableUsers, encoded)
	}
	if err != nil {
		return nil, err
	}

	delete(entry, "passwordHash")
	return entry, nil
}

// DeleteUser removes a directory entry. The only physical delete in the
// system besides group membership removal.
func (s *Service) DeleteUser(ctx context.Context, emailAddr string) (bool, error) {
	data, err := s.tables.ListRows(ctx, tablestore.TableUsers)
	if err != nil {
		return false, err
	}
	rowIndex, _ := findRow(data, "email", mention.Normalize(emailAddr))
	if rowIndex == 0 {
		return false, nil
	}
	if err := s.tables.DeleteRow(ctx, tablestore.TableUsers, rowIndex); err != nil {
		return false, err
	}
	return true, nil
}

// Groups lists the notification groups.
func (s *Service) Groups(ctx context.Context) ([]record.Record, error) {
	data, err := s.loadTable(ctx, tablestore.TableGroups)
	if err != nil {
		return nil, err
	}
	groups := make([]record.Record, 0, len(data.Rows))
	for _, row := range data.Rows {
		groups = append(groups, record.Plain.Decode(data.Headers, row))
	}
	return groups, nil
}

// CreateGroup adds a notification group.
func (s *Service) CreateGroup(ctx context.Context, name, webhookURL string) (record.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "groupName is required", nil)
	}

	data, err := s.tables.ListRows(ctx, tablestore.TableGroups)
	if err != nil {
		return nil, err
	}
	if idx, _ := findRow(data, "groupName", name); idx > 0 {
		return nil, domainError(http.StatusConflict, "CONFLICT", "group already exists", nil)
	}

	group := record.Record{
		"groupId":          util.NewID("grp"),
		"groupName":        name,
		"chatSpaceWebhook": webhookURL,
	}
	if err := s.tables.AppendRow(ctx, tablestore.TableGroups, record.Plain.Encode(data.Headers, group)); err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup removes a group and its memberships.
func (s *Service) DeleteGroup(ctx context.Context, name string) (bool, error) {
	data, err := s.tables.ListRows(ctx, tablestore.TableGroups)
	if err != nil {
		return false, err
	}
	rowIndex, _ := findRow(data, "groupName", name)
	if rowIndex == 0 {
		return false, nil
	}
	if err := s.tables.DeleteRow(ctx, tablestore.TableGroups, rowIndex); err != nil {
		return false, err
	}

	// Drop memberships pointing at the removed group.
	members, err := s.tables.ListRows(ctx, tablestore.TableMemberships)
	if err != nil {
		return true, nil
	}
	for {
		idx, _ := findRow(members, "groupName", name)
		if idx == 0 {
			break
		}
		if err := s.tables.DeleteRow(ctx, tablestore.TableMemberships, idx); err != nil {
			s.logger.Printf("delete membership for group %s: %v", name, err)
			break
		}
		members, err = s.tables.ListRows(ctx, tablestore.TableMemberships)
		if err != nil {
			break
		}
	}
	return true, nil
}

// GroupMembers lists the member emails of a group.
func (s *Service) GroupMembers(ctx context.Context, groupName string) ([]string, error) {
	data, err := s.loadTable(ctx, tablestore.TableMemberships)
	if err != nil {
		return nil, err
	}
	var members []string
	for _, row := range data.Rows {
		m := record.Plain.Decode(data.Headers, row)
		if m.String("groupName") == groupName {
			members = append(members, m.String("userEmail"))
		}
	}
	return members, nil
}

// AddGroupMember adds a user to a group.
func (s *Service) AddGroupMember(ctx context.Context, groupName, userEmail string) error {
	groups, err := s.tables.ListRows(ctx, tablestore.TableGroups)
	if err != nil {
		return err
	}
	if idx, _ := findRow(groups, "groupName", groupName); idx == 0 {
		return notFound("group")
	}

	userEmail = mention.Normalize(userEmail)
	members, err := s.GroupMembers(ctx, groupName)
	if err != nil {
		return err
	}
	for _, m := range members {
		if mention.Normalize(m) == userEmail {
			return nil // already a member
		}
	}

	headers := tablestore.DefaultHeaders[tablestore.TableMemberships]
	if data, err := s.tables.ListRows(ctx, tablestore.TableMemberships); err == nil {
		headers = data.Headers
	}
	row := record.Plain.Encode(headers, record.Record{
		"userEmail": userEmail,
		"groupName": groupName,
	})
	return s.tables.AppendRow(ctx, tablestore.TableMemberships, row)
}

// RemoveGroupMember drops a user from a group.
func (s *Service) RemoveGroupMember(ctx context.Context, groupName, userEmail string) (bool, error) {
	data, err := s.tables.ListRows(ctx, tablestore.TableMemberships)
	if err != nil {
		return false, err
	}
	userEmail = mention.Normalize(userEmail)
	for i, row := range data.Rows {
		m := record.Plain.Decode(data.Headers, row)
		if m.String("groupName") == groupName && mention.Normalize(m.String("userEmail")) == userEmail {
			if err := s.tables.DeleteRow(ctx, tablestore.TableMemberships, i+1); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}
