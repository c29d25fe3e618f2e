package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"
)

// CandidateStore 候选人持久化所需的最小接口
type CandidateStore interface {
	FindCandidateByEmail(ctx context.Context, email string) (*models.Candidate, error)
	CreateCandidate(ctx context.Context, candidate *models.Candidate) error
	UpdateCandidate(ctx context.Context, candidate *models.Candidate) error
}

// Resolver 把抽取出的画像归并到候选人主表。
// 身份键是小写邮箱，这个域没有可靠的次级自然键，缺邮箱的提交直接拒绝。
type Resolver struct {
	store CandidateStore
}

// NewResolver 创建身份归并器
func NewResolver(store CandidateStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve 按身份键查找或创建候选人。
// 已存在时按 COALESCE 语义补全空字段，已有值不被覆盖；
// resume_path 每次都刷新为最新一份简历。
// 返回的 bool 表示本次是否新建了候选人。
func (r *Resolver) Resolve(ctx context.Context, submissionUUID string, profile *types.CandidateProfile, resumePath string) (*models.Candidate, bool, error) {
	if profile == nil {
		return nil, false, types.NewIdentityError(submissionUUID, "画像为空")
	}

	email := profile.IdentityKey()
	if email == "" {
		return nil, false, types.NewIdentityError(submissionUUID, "画像缺少邮箱")
	}

	existing, err := r.store.FindCandidateByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("查找候选人失败: %w", err)
		}
		candidate, createErr := r.create(ctx, email, profile, resumePath)
		if createErr != nil {
			return nil, false, createErr
		}
		logger.Ctx(ctx).Info().
			Str("submission_uuid", submissionUUID).
			Str("candidate_id", candidate.CandidateID).
			Msg("创建新候选人")
		return candidate, true, nil
	}

	r.coalesce(existing, profile)
	existing.ResumePath = resumePath
	if err := r.store.UpdateCandidate(ctx, existing); err != nil {
		return nil, false, fmt.Errorf("更新候选人失败: %w", err)
	}
	logger.Ctx(ctx).Debug().
		Str("submission_uuid", submissionUUID).
		Str("candidate_id", existing.CandidateID).
		Msg("归并到已有候选人")
	return existing, false, nil
}

func (r *Resolver) create(ctx context.Context, email string, profile *types.CandidateProfile, resumePath string) (*models.Candidate, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成候选人ID失败: %w", err)
	}

	candidate := &models.Candidate{
		CandidateID:       id.String(),
		Name:              profile.Name,
		Email:             email,
		Phone:             strings.TrimSpace(profile.Phone),
		LinkedinURL:       profile.LinkedIn,
		CurrentLocation:   profile.Location,
		YearsExperience:   profile.YearsExperience,
		EducationLevel:    profile.Degree,
		LastPositionTitle: profile.LastTitle,
		ResumePath:        resumePath,
	}
	if len(profile.Skills) > 0 {
		skillsJSON, jsonErr := models.SliceToJSON(profile.Skills)
		if jsonErr != nil {
			return nil, fmt.Errorf("序列化技能列表失败: %w", jsonErr)
		}
		candidate.SkillsJSON = skillsJSON
	}

	if err := r.store.CreateCandidate(ctx, candidate); err != nil {
		return nil, fmt.Errorf("创建候选人失败: %w", err)
	}
	return candidate, nil
}

// coalesce 仅补空字段，不覆盖已有值
func (r *Resolver) coalesce(candidate *models.Candidate, profile *types.CandidateProfile) {
	if candidate.Name == "" {
		candidate.Name = profile.Name
	}
	if candidate.Email == "" && profile.Email != "" {
		candidate.Email = strings.ToLower(profile.Email)
	}
	if candidate.Phone == "" {
		candidate.Phone = profile.Phone
	}
	if candidate.LinkedinURL == "" {
		candidate.LinkedinURL = profile.LinkedIn
	}
	if candidate.CurrentLocation == "" {
		candidate.CurrentLocation = profile.Location
	}
	if candidate.YearsExperience == "" {
		candidate.YearsExperience = profile.YearsExperience
	}
	if candidate.EducationLevel == "" {
		candidate.EducationLevel = profile.Degree
	}
	if candidate.LastPositionTitle == "" {
		candidate.LastPositionTitle = profile.LastTitle
	}
	if len(candidate.SkillsJSON) == 0 && len(profile.Skills) > 0 {
		if skillsJSON, err := models.SliceToJSON(profile.Skills); err == nil {
			candidate.SkillsJSON = skillsJSON
		}
	}
}
