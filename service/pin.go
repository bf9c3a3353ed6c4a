package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
)

const (
	pinLength      = 6
	pinMin         = 100000
	pinMax         = 999999
	maxPINAttempts = 100
)

// PINChecker 查询PIN是否已被占用
type PINChecker interface {
	PINExists(ctx context.Context, pin string) (bool, error)
}

// PinAllocator 生成唯一的6位会话PIN
type PinAllocator struct {
	checker     PINChecker
	next        func() int
	maxAttempts int
}

// NewPinAllocator 创建PIN分配器
func NewPinAllocator(checker PINChecker) *PinAllocator {
	return &PinAllocator{
		checker: checker,
		next: func() int {
			return pinMin + rand.IntN(pinMax-pinMin+1)
		},
		maxAttempts: maxPINAttempts,
	}
}

// Generate 随机生成未被占用的PIN，超过尝试次数返回 ErrAllocationExhausted
func (a *PinAllocator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < a.maxAttempts; i++ {
		pin := strconv.Itoa(a.next())
		exists, err := a.checker.PINExists(ctx, pin)
		if err != nil {
			return "", fmt.Errorf("check pin: %w", err)
		}
		if !exists {
			return pin, nil
		}
	}
	return "", ErrAllocationExhausted
}

// IsValidPIN 恰好6个ASCII数字
func IsValidPIN(pin string) bool {
	if len(pin) != pinLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
