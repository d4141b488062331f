package db

import (
	"context"
	"errors"

	"github.com/saeki-dev/anifight/model"
	"gorm.io/gorm"
)

// content is the read-only collaborator for anime, characters and game
// templates. The draft engine queries it at game start and at scoring time;
// content management itself lives elsewhere.
type content db

func (c *content) Template(ctx context.Context, id uint) (*model.GameTemplate, error) {
	var tmpl model.GameTemplate
	err := c.DB.WithContext(ctx).First(&tmpl, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// TemplateRoleCount satisfies the state store's completion check.
func (c *content) TemplateRoleCount(ctx context.Context, id uint) (int, error) {
	tmpl, err := c.Template(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(tmpl.RoleList()), nil
}

func (c *content) Characters(ctx context.Context, ids []int64) ([]model.Character, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chars []model.Character
	err := c.DB.WithContext(ctx).Preload("Anime").
		Where("id IN ?", ids).Find(&chars).Error
	return chars, err
}

func (c *content) CharactersByAnime(ctx context.Context, animeIDs []int64) ([]model.Character, error) {
	if len(animeIDs) == 0 {
		return nil, nil
	}
	var chars []model.Character
	err := c.DB.WithContext(ctx).Preload("Anime").
		Where("anime_id IN ?", animeIDs).Find(&chars).Error
	return chars, err
}

// CharacterIDsByAnime resolves an anime pool into the fixed set of eligible
// character ids a game starts with.
func (c *content) CharacterIDsByAnime(ctx context.Context, animeIDs []int64) ([]int64, error) {
	chars, err := c.CharactersByAnime(ctx, animeIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(chars))
	for _, ch := range chars {
		ids = append(ids, int64(ch.ID))
	}
	return ids, nil
}
