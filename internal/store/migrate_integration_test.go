// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

//go:build integration

package store_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/courtcheck/courtcheck/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var m *store.Migrator

	BeforeAll(func() {
		var err error
		m, err = store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(m.Close()).To(Succeed()) })
		Expect(m.Down()).To(Succeed())
	})

	It("starts at version 0 with everything pending", func() {
		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		pending, err := m.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{1, 2, 3, 4}))
	})

	It("applies every migration", func() {
		Expect(m.Up()).To(Succeed())
		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(4)))
		Expect(dirty).To(BeFalse())

		Expect(m.Up()).To(Succeed(), "a second Up is a no-op")
	})

	It("steps down and back up", func() {
		Expect(m.Steps(-1)).To(Succeed())
		version, _, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(3)))

		Expect(m.Steps(1)).To(Succeed())
		version, _, err = m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(4)))
	})

	It("reverts everything and can be forced", func() {
		Expect(m.Down()).To(Succeed())
		version, _, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		Expect(m.Up()).To(Succeed())
		Expect(m.Force(2)).To(Succeed())
		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())
		Expect(m.Force(4)).To(Succeed())
	})
})
