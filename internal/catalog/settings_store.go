package catalog

import (
	"errors"

	"gorm.io/gorm"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// GetSetting implements settings.Store.
func (s *Store) GetSetting(key string) (string, bool) {
	var row model.Setting
	err := s.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return row.Value, true
}

// SetSetting implements settings.Store.
func (s *Store) SetSetting(key, value string) error {
	row := model.Setting{Key: key, Value: value}
	return s.db.Save(&row).Error
}

// DeleteSetting implements settings.Store.
func (s *Store) DeleteSetting(key string) (bool, error) {
	res := s.db.Delete(&model.Setting{}, "key = ?", key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AllSettingOverrides implements settings.Store.
func (s *Store) AllSettingOverrides() (map[string]string, error) {
	var rows []model.Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
