package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberworks/questengine/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInsufficientFunds is returned by Debit when the character cannot pay.
var ErrInsufficientFunds = errors.New("account: insufficient funds")

// ErrUnknownCharacter is returned when the character row does not exist.
var ErrUnknownCharacter = errors.New("account: unknown character")

// Service answers requirement checks (level, faction standing, prior quest
// completion) and acts as the wallet collaborator for reroll charges. It is
// the engine's only view of character state.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates an account Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Level returns the character's current level.
func (svc *Service) Level(ctx context.Context, characterID int64) (int, error) {
	char, err := svc.load(ctx, characterID)
	if err != nil {
		return 0, err
	}
	return char.Level, nil
}

// FactionStanding returns the character's reputation with the given faction,
// zero if the character has none recorded.
func (svc *Service) FactionStanding(ctx context.Context, characterID int64, faction string) (int, error) {
	char, err := svc.load(ctx, characterID)
	if err != nil {
		return 0, err
	}
	if len(char.FactionRep) == 0 {
		return 0, nil
	}
	rep := make(map[string]int)
	if err := json.Unmarshal(char.FactionRep, &rep); err != nil {
		return 0, fmt.Errorf("account: faction rep for character %d: %w", characterID, err)
	}
	return rep[faction], nil
}

// HasCompletedQuest reports whether the character has any COMPLETED instance
// of the given quest template.
func (svc *Service) HasCompletedQuest(ctx context.Context, characterID int64, templateID string) (bool, error) {
	var n int64
	err := svc.db.WithContext(ctx).Model(&model.QuestInstance{}).
		Where("character_id = ? AND template_id = ? AND status = ?",
			characterID, templateID, model.StatusCompleted).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Debit atomically charges the character's gold. The guard clause makes the
// charge fail rather than drive the balance negative.
func (svc *Service) Debit(ctx context.Context, characterID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := svc.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ? AND gold >= ?", characterID, amount).
		Update("gold", gorm.Expr("gold - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from an empty purse.
		if _, err := svc.load(ctx, characterID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	svc.logger.Debug("wallet debit",
		zap.Int64("character_id", characterID),
		zap.Int64("amount", amount))
	return nil
}

// Credit adds gold back to the character. Used to unwind a charge whose
// follow-up write failed.
func (svc *Service) Credit(ctx context.Context, characterID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := svc.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ?", characterID).
		Update("gold", gorm.Expr("gold + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownCharacter
	}
	svc.logger.Debug("wallet credit",
		zap.Int64("character_id", characterID),
		zap.Int64("amount", amount))
	return nil
}

func (svc *Service) load(ctx context.Context, characterID int64) (*model.Character, error) {
	var char model.Character
	err := svc.db.WithContext(ctx).Where("id = ?", characterID).First(&char).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("character %d: %w", characterID, ErrUnknownCharacter)
	}
	if err != nil {
		return nil, err
	}
	return &char, nil
}
