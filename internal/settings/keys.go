package settings

import (
	"fmt"
	"strings"
)

// APIKey returns the stored key for provider.
func (s *Store) APIKey(provider string) (string, bool) {
	keys := s.apiKeys()
	v, ok := keys[provider]
	return v, ok && v != ""
}

// SetAPIKey stores or, when key is empty, removes the key for provider.
func (s *Store) SetAPIKey(provider, key string) error {
	s.apiKeysMu.Lock()
	defer s.apiKeysMu.Unlock()

	keys := s.apiKeys()
	if key == "" {
		delete(keys, provider)
	} else {
		keys[provider] = key
	}
	return s.Set(KeyAPIKeys, keys)
}

func (s *Store) apiKeys() map[string]string {
	keys := map[string]string{}
	if _, err := s.Get(KeyAPIKeys, &keys); err != nil || keys == nil {
		return map[string]string{}
	}
	return keys
}

// DBOverride returns the database DSN override.
func (s *Store) DBOverride() (string, bool) {
	return s.getString(KeyDBOverride)
}

// SetDBOverride stores the database DSN override.
func (s *Store) SetDBOverride(dsn string) error {
	return s.setString(KeyDBOverride, dsn)
}

// VectorIndex returns the selected vector index name.
func (s *Store) VectorIndex() (string, bool) {
	return s.getString(KeyVectorIndex)
}

// SetVectorIndex stores the selected vector index name.
func (s *Store) SetVectorIndex(name string) error {
	return s.setString(KeyVectorIndex, name)
}

// SessionUser returns the current session user.
func (s *Store) SessionUser() (string, bool) {
	return s.getString(KeySessionUser)
}

// SetSessionUser stores the current session user.
func (s *Store) SetSessionUser(user string) error {
	return s.setString(KeySessionUser, user)
}

// UserModel returns the preferred AI model of user.
func (s *Store) UserModel(user string) (string, bool) {
	if user == "" {
		return "", false
	}
	return s.getString(modelKeyPrefix + user)
}

// SetUserModel stores the preferred AI model of user.
func (s *Store) SetUserModel(user, model string) error {
	if err := validUser(user); err != nil {
		return err
	}
	return s.setString(modelKeyPrefix+user, model)
}

// UserFilters returns the saved metadata filter of user.
func (s *Store) UserFilters(user string) (map[string][]string, bool, error) {
	if user == "" {
		return nil, false, nil
	}
	var f map[string][]string
	ok, err := s.Get(filtersKeyPrefix+user, &f)
	if err != nil || !ok {
		return nil, ok, err
	}
	return f, true, nil
}

// SetUserFilters stores the metadata filter of user. An empty filter removes
// the entry.
func (s *Store) SetUserFilters(user string, filters map[string][]string) error {
	if err := validUser(user); err != nil {
		return err
	}
	if len(filters) == 0 {
		return s.Delete(filtersKeyPrefix + user)
	}
	return s.Set(filtersKeyPrefix+user, filters)
}

// IsFiltersKey reports whether key holds a user's filters, and for whom.
func IsFiltersKey(key string) (string, bool) {
	if strings.HasPrefix(key, filtersKeyPrefix) {
		return strings.TrimPrefix(key, filtersKeyPrefix), true
	}
	return "", false
}

func (s *Store) getString(key string) (string, bool) {
	var v string
	ok, err := s.Get(key, &v)
	if err != nil || !ok || v == "" {
		return "", false
	}
	return v, true
}

func (s *Store) setString(key, v string) error {
	if v == "" {
		return s.Delete(key)
	}
	return s.Set(key, v)
}

func validUser(user string) error {
	if user == "" || strings.ContainsAny(user, " \t\n") {
		return fmt.Errorf("%w: user %q", ErrInvalidKey, user)
	}
	return nil
}
