package service

import (
	"sitehost/internal/apperror"
	"sitehost/internal/domain"
)

// Проверки доступа - чистые функции от явно переданного инициатора

// CanManageTemplates разрешает администрирование шаблонов
func CanManageTemplates(caller domain.Caller) bool {
	return caller.Authenticated() && caller.IsAdmin()
}

// CanViewTemplate проверяет видимость шаблона: публичный или выданный
// конкретному пользователю. Администратор видит все, включая неактивные.
func CanViewTemplate(caller domain.Caller, tpl *domain.Template) bool {
	if tpl == nil || !caller.Authenticated() {
		return false
	}
	if caller.IsAdmin() {
		return true
	}
	if !tpl.IsActive {
		return false
	}
	return tpl.IsPublic || (tpl.OwnerScope != nil && *tpl.OwnerScope == caller.ID)
}

func CanAccessSite(caller domain.Caller, siteOwner string) bool {
	if !caller.Authenticated() || siteOwner == "" {
		return false
	}
	return caller.ID == siteOwner || caller.IsAdmin()
}

// sitePrefix строит префикс сайта только для допустимого идентификатора
func sitePrefix(userID string) (string, error) {
	if !domain.ValidUserID(userID) {
		return "", apperror.Clone(apperror.ErrValidation, "invalid user id")
	}
	return domain.SitePrefix(userID), nil
}
